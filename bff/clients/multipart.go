package clients

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// createImagePart builds a "file" form part carrying the original content
// type instead of the application/octet-stream default.
func createImagePart(w *multipart.Writer, fileName, contentType string) (io.Writer, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(fileName)))
	h.Set("Content-Type", contentType)

	return w.CreatePart(h)
}
