package trans

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
)

// errorMessageMaxLength is the maximum length of the response body we will
// include into the generated error message
const errorMessageMaxLength = 80

var (
	// SendAndWaitReq is proxy function to route actual call to http or
	// pseudo http in tests.
	SendAndWaitReq = sendAndWaitHTTPRequest

	c = &http.Client{}
)

func sendAndWaitHTTPRequest(ctx context.Context, urlStr string, msg io.Reader, timeout time.Duration) (data []byte, err error) {
	defer err2.Handle(&err, "call http")

	URL := try.To1(url.Parse(urlStr))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	request := try.To1(http.NewRequestWithContext(ctx, "POST", URL.String(), msg))
	request.Close = true // deferred response.Body.Close isn't always enough
	request.Header.Set("Content-Type", MediaType)

	response := try.To1(c.Do(request))

	defer func() {
		closeErr := response.Body.Close()
		if closeErr != nil {
			glog.Warningln("body.Close: ", closeErr)
		}
	}()

	data = try.To1(io.ReadAll(response.Body))

	return checkHTTPStatus(response, data)
}

// checkHTTPStatus checks the status code and gets the server message
func checkHTTPStatus(response *http.Response, data []byte) ([]byte, error) {
	if response.StatusCode < 200 || response.StatusCode > 299 {
		glog.Warning("http code:", response.Status)
		contentType := response.Header.Get("Content-type")
		// from our server: text/plain; charset=utf-8
		if strings.HasPrefix(contentType, "text/plain") {
			l := len(data)
			return nil, fmt.Errorf("%s: %s",
				response.Status, data[0:min(errorMessageMaxLength, l)])
		}
		return nil, fmt.Errorf("%v", response.Status)
	}
	return data, nil
}

// HTTP is the outbound HTTP(S) transport. A non-empty response body is a
// return routed message and it's passed to the inbound callback.
type HTTP struct {
	in Inbound
}

func NewHTTP() *HTTP {
	return &HTTP{}
}

func (h *HTTP) Schemes() []string {
	return []string{"http", "https"}
}

func (h *HTTP) Start(in Inbound) {
	h.in = in
}

func (h *HTTP) Send(ctx context.Context, endpoint string, packed []byte) (err error) {
	defer err2.Handle(&err, "http send to %s", endpoint)

	data := try.To1(SendAndWaitReq(ctx, endpoint, bytes.NewReader(packed),
		utils.Settings.Timeout()))
	if len(bytes.TrimSpace(data)) > 0 && h.in != nil {
		glog.V(3).Infoln("http response message from", endpoint)
		h.in(ctx, data, nil)
	}
	return nil
}

func (h *HTTP) Stop() error {
	return nil
}
