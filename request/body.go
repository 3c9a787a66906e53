package request

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"

	log "github.com/sirupsen/logrus"
)

type requestBody struct {
	part string
	data string
}

type requestFile struct {
	part string
	name string
	path string
}

// multipartBody packs an optional text field and an optional file into a
// multipart form and returns it with its content type.
func multipartBody(body *requestBody, file *requestFile) (io.Reader, string, error) {
	buffer := &bytes.Buffer{}
	writer := multipart.NewWriter(buffer)

	if file != nil && len(file.path) > 0 {
		f, err := os.Open(file.path)
		if err != nil {
			return nil, "", fmt.Errorf("cannot open file: %w", err)
		}
		defer f.Close()

		part, err := writer.CreateFormFile(file.part, file.name)
		if err != nil {
			return nil, "", fmt.Errorf("cannot create form file: %w", err)
		}
		if _, err := io.Copy(part, f); err != nil {
			return nil, "", fmt.Errorf("cannot copy file: %w", err)
		}
		log.Debugf("file part %v name %v", file.part, f.Name())
	}
	if body != nil && len(body.part) > 0 {
		if err := writer.WriteField(body.part, body.data); err != nil {
			return nil, "", fmt.Errorf("cannot write field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("cannot close writer: %w", err)
	}
	return buffer, writer.FormDataContentType(), nil
}
