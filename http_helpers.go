package megafon

import (
	"io"

	http "github.com/bogdanfinn/fhttp"
)

// headerOrder is the header order the MLK app sends on every request.
var headerOrder = []string{
	"Host",
	"Content-Type",
	"Content-Length",
	"Accept",
	"User-Agent",
	"Accept-Language",
	"Accept-Encoding",
	"Cookie",
}

// readResponseBody decompresses and reads the full response body.
// Caller should defer resp.Body.Close() before calling this.
func readResponseBody(resp *http.Response) ([]byte, error) {
	if resp.Header.Get("Content-Encoding") == "" {
		return io.ReadAll(resp.Body)
	}
	body := http.DecompressBody(resp)
	defer body.Close()
	return io.ReadAll(body)
}
