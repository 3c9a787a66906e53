package request

import (
	"context"
	"fmt"
	"net/http"
)

// SendLogFileWithPath uploads a log file with a free-form note.
func (h *HttpClientStruct) SendLogFileWithPath(ctx context.Context, logFilePath string, bodyText string) error {
	body, contentType, err := multipartBody(
		&requestBody{part: "body", data: fmt.Sprintf("Log from meetsync %s", bodyText)},
		&requestFile{part: "file", name: "log.txt", path: logFilePath},
	)
	if err != nil {
		return err
	}
	return h.makeRequest(ctx, requestParams{
		endpoint:           "/v1/mobile-app-log",
		method:             http.MethodPost,
		useAuthorizeHeader: true,
		rawBody:            body,
		contentType:        contentType,
	}, nil)
}
