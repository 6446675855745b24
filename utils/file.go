package utils

import (
	"io"
	"mime/multipart"
)

// ReadMultipartFile reads an uploaded file fully into memory. Replay files are
// small (a few hundred KB), so buffering is fine.
func ReadMultipartFile(fileHeader *multipart.FileHeader) ([]byte, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}
