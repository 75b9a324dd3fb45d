//go:build !govips || !cgo

package normalize

func Startup() error {
	return nil
}

func Shutdown() {}

func newCodec() (Codec, error) {
	return StdCodec{}, nil
}
