package imagescan

import (
	"fmt"
	"io"
	"os"

	"github.com/h2non/filetype"
)

// headerSize is the number of bytes filetype needs to match any known type.
const headerSize = 261

// Sniff reads the file header and returns its MIME type and whether it is
// an image. Unknown content yields "application/octet-stream".
func Sniff(path string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, headerSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}
	head = head[:n]

	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream", false, nil
	}
	return kind.MIME.Value, filetype.IsImage(head), nil
}
