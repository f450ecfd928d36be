//go:build !unix

package disk

func GetUsage(path string) (Usage, error) {
	return Usage{}, ErrUnsupported
}
