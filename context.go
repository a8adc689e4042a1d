package dbus

import (
	"context"
	"errors"
	"os"
)

type senderContextKey struct{}

func withContextSender(ctx context.Context, iface Interface) context.Context {
	return context.WithValue(ctx, senderContextKey{}, iface)
}

func ContextSender(ctx context.Context) (Interface, bool) {
	v := ctx.Value(senderContextKey{})
	if v == nil {
		return Interface{}, false
	}
	if ret, ok := v.(Interface); ok {
		return ret, true
	}
	return Interface{}, false
}

type headerContextKey struct{}

type headerContextValue struct {
	conn *Conn
	hdr  *header
}

// withContextHeader attaches the header of the message currently
// being encoded or decoded to ctx, so that body marshalling code and
// [ContextEmitter] can see who is sending or who sent the message.
func withContextHeader(ctx context.Context, c *Conn, hdr *header) context.Context {
	return context.WithValue(ctx, headerContextKey{}, headerContextValue{c, hdr})
}

// ContextEmitter returns the Interface that emitted the signal or
// method call currently being processed, if ctx was derived from one
// delivered by a [Conn].
func ContextEmitter(ctx context.Context) (Interface, bool) {
	v, ok := ctx.Value(headerContextKey{}).(headerContextValue)
	if !ok || v.hdr == nil || v.conn == nil || v.hdr.Sender == "" {
		return Interface{}, false
	}
	return v.conn.Peer(v.hdr.Sender).Object(v.hdr.Path).Interface(v.hdr.Interface), true
}

type callFlagsContextKey struct{}

// AllowInteractiveAuthorization marks ctx so that a method call made
// with it permits the destination to prompt the user for interactive
// authorization if the caller lacks the privileges to complete the
// call outright.
func AllowInteractiveAuthorization(ctx context.Context) context.Context {
	return context.WithValue(ctx, callFlagsContextKey{}, byte(0x4))
}

// contextCallFlags returns the DBus message flags byte requested via
// ctx (currently just the interactive-authorization bit).
func contextCallFlags(ctx context.Context) byte {
	if v, ok := ctx.Value(callFlagsContextKey{}).(byte); ok {
		return v
	}
	return 0
}

type filesContextKey struct{}

func withContextFiles(ctx context.Context, files []*os.File) context.Context {
	return context.WithValue(ctx, filesContextKey{}, files)
}

func contextFile(ctx context.Context, idx uint32) *os.File {
	v := ctx.Value(filesContextKey{})
	if v == nil {
		return nil
	}
	fs, ok := v.([]*os.File)
	if !ok {
		return nil
	}
	if idx < 0 || int(idx) >= len(fs) {
		return nil
	}

	return fs[int(idx)]
}

type writeFilesContextKey struct{}

func withContextPutFiles(ctx context.Context, files *[]*os.File) context.Context {
	return context.WithValue(ctx, writeFilesContextKey{}, files)
}

func contextPutFile(ctx context.Context, file *os.File) (idx uint32, err error) {
	v := ctx.Value(writeFilesContextKey{})
	if v == nil {
		return 0, errors.New("cannot send file descriptor: invalid context")
	}
	fsp, ok := v.(*[]*os.File)
	if !ok || fsp == nil {
		return 0, errors.New("cannot send file descriptor: invalid context")
	}

	*fsp = append(*fsp, file)
	return uint32(len(*fsp) - 1), nil
}
