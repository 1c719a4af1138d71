package restyutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// Output receives one formatted http exchange per request.
type Output interface {
	Write(id string, contents string)
}

type FilesystemOutput struct {
	directory string
}

// NewFilesystemOutput clears dir and writes every exchange to its own file in it.
func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = os.RemoveAll(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = os.MkdirAll(dir, 0777)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{directory: dir}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message info file", "id", id, "err", err)
	}
}

type messageIdKey struct{}

type dumper struct {
	prefix    string
	output    Output
	idcounter *uint64
}

// Dump writes every request made by client and its response to output,
// files are named <prefix>-<n>.txt. A nil output makes it a no-op.
func Dump(client *resty.Client, prefix string, output Output) {
	if output == nil {
		return
	}
	var idcounter uint64
	d := dumper{prefix: prefix, output: output, idcounter: &idcounter}
	client.OnBeforeRequest(d.onBeforeRequest)
	client.OnAfterResponse(d.onAfterResponse)
	client.OnError(d.onError)
}

func (d dumper) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	n := atomic.AddUint64(d.idcounter, 1)
	messageId := fmt.Sprintf("%s-%s.txt", d.prefix, strconv.FormatUint(n, 10))
	slog.DebugContext(
		req.Context(), "start request",
		"method", req.Method,
		"url", req.URL,
		"message_id", messageId,
	)
	req.SetContext(context.WithValue(req.Context(), messageIdKey{}, messageId))
	return nil
}

func (d dumper) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	messageId, ok := res.Request.Context().Value(messageIdKey{}).(string)
	if !ok {
		return nil
	}
	d.output.Write(messageId, formatHttpMessage(res))
	return nil
}

func (d dumper) onError(req *resty.Request, err error) {
	messageId, _ := req.Context().Value(messageIdKey{}).(string)
	slog.WarnContext(
		req.Context(), "request failed",
		"method", req.Method,
		"url", req.URL,
		"err", err,
		"message_id", messageId,
	)
	if messageId != "" {
		d.output.Write(messageId, fmt.Sprintf("%s %s\n\n%s", req.Method, req.URL, err))
	}
}
