package dbus

import (
	"context"
	"errors"
	"os"
	"reflect"

	"github.com/opendbus/godbus/fragments"
)

// File wraps an *os.File so it can be sent or received as a DBus
// UNIX_FD argument.
//
// The underlying descriptor travels out-of-band, as ancillary socket
// data alongside the message body; the wire format only carries an
// index into that side channel.
type File struct {
	*os.File
}

var fileSignature = mkSignature(reflect.TypeFor[File](), "h")

func (File) IsDBusStruct() bool       { return false }
func (File) SignatureDBus() Signature { return fileSignature }

func (f *File) MarshalDBus(ctx context.Context, e *fragments.Encoder) error {
	if f.File == nil {
		return errors.New("cannot marshal File: File.File is nil")
	}
	slot, err := contextPutFile(ctx, f.File)
	if err != nil {
		return err
	}
	e.Uint32(slot)
	return nil
}

func (f *File) UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error {
	slot, err := d.Uint32()
	if err != nil {
		return err
	}
	got := contextFile(ctx, slot)
	if got == nil {
		return errors.New("cannot unmarshal File: no file descriptor available")
	}
	f.File = got
	return nil
}
