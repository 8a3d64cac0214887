package main

import (
    "bytes"
    "encoding/json"
    "fmt"
    "net/http"
    "net/url"
    "strings"
    "time"

    gochat "github.com/SirGFM/go-chat-relay"
)

// apiError is the body of every failed request.
type apiError struct {
    Status int `json:"-"`
    Code string `json:"code"`
    Message string `json:"message"`
}

func (e *apiError) Error() string {
    return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// sendReceipt is returned by the server for every delivered message.
type sendReceipt struct {
    MessageID string `json:"message_id"`
    Status string `json:"status"`
    DeliveredTo int `json:"delivered_to"`
}

// apiClient talks to the relay server's HTTP API.
type apiClient struct {
    base string
    http *http.Client
}

func newAPIClient(base string) *apiClient {
    return &apiClient {
        base: strings.TrimSuffix(base, "/"),
        http: &http.Client{Timeout: time.Second * 10},
    }
}

// do send a request with an optional JSON `body`, decoding a successful
// reply into `out`.
func (c *apiClient) do(method, path, user string, body, out interface{}) error {
    var data []byte
    if body != nil {
        var err error
        if data, err = json.Marshal(body); err != nil {
            return err
        }
    }

    req, err := http.NewRequest(method, c.base + path, bytes.NewReader(data))
    if err != nil {
        return err
    }
    req.Header.Set("Content-Type", "application/json")
    if len(user) > 0 {
        req.Header.Set(userHeader, user)
    }

    res, err := c.http.Do(req)
    if err != nil {
        return err
    }
    defer res.Body.Close()

    if res.StatusCode >= 300 {
        apiErr := &apiError{Status: res.StatusCode}
        if err := json.NewDecoder(res.Body).Decode(apiErr); err != nil {
            apiErr.Message = res.Status
        }
        return apiErr
    }

    return json.NewDecoder(res.Body).Decode(out)
}

func (c *apiClient) register(name string) (gochat.Identity, error) {
    var id gochat.Identity
    err := c.do(http.MethodPost, "/api/users/create", "", map[string]string{"name": name}, &id)
    return id, err
}

func (c *apiClient) list() (map[string]string, error) {
    var reply struct {
        Users map[string]string `json:"users"`
    }
    err := c.do(http.MethodGet, "/api/users/list", "", nil, &reply)
    return reply.Users, err
}

func (c *apiClient) resolve(name string) (gochat.Identity, error) {
    var id gochat.Identity
    err := c.do(http.MethodGet, "/api/users/" + url.PathEscape(name), "", nil, &id)
    return id, err
}

func (c *apiClient) send(user, to, msg string) (sendReceipt, error) {
    var receipt sendReceipt
    body := map[string]string {
        "recipient_name": to,
        "message": msg,
    }
    err := c.do(http.MethodPost, "/api/messages/send", user, body, &receipt)
    return receipt, err
}
