package transport

import (
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
)

// storeNamed writes the received content under the target path, keeping the
// announced file name but never overwriting an existing one: collisions get
// a unique suffix instead.
func storeNamed(targetPath string, filename string, content []byte) (string, error) {
	if err := os.MkdirAll(targetPath, 0777); err != nil {
		return "", err
	}

	filename = path.Base(filename)
	if len(filename) == 0 || strings.HasPrefix(filename, ".") {
		filename = "transfer.bin"
	}

	target := path.Join(targetPath, filename)
	if _, err := os.Stat(target); err == nil {
		extension := path.Ext(filename)
		base := strings.TrimSuffix(filename, extension)

		target = path.Join(targetPath, base+"-"+uuid.New().String()+extension)
	}

	if err := os.WriteFile(target, content, 0666); err != nil {
		return "", err
	}
	return target, nil
}
