package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_resty_request  = "resty.request"
	report_resty_response = "resty.response"
	report_resty_status   = "resty.status"
)

type instrumentResty struct {
	tel       API
	idcounter *uint64
}

// InstrumentResty reports every request made by the client with how long
// it took. Error statuses are warnings, transport errors are broken.
func InstrumentResty(client *resty.Client, tel API) {
	var idcounter uint64
	i := instrumentResty{tel: tel, idcounter: &idcounter}

	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.OnError(i.onError)
}

type reqCtxKey struct{}

type reqCtx struct {
	id      uint64
	started time.Time
}

func (i instrumentResty) since(ctx context.Context) (uint64, time.Duration) {
	rc, ok := ctx.Value(reqCtxKey{}).(reqCtx)
	if !ok {
		return 0, 0
	}
	return rc.id, time.Since(rc.started)
}

func (i instrumentResty) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	id := atomic.AddUint64(i.idcounter, 1)
	req.SetContext(context.WithValue(req.Context(), reqCtxKey{}, reqCtx{
		id:      id,
		started: time.Now(),
	}))
	i.tel.ReportDebug(report_resty_request, id, req.Method, req.URL)
	return nil
}

func (i instrumentResty) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	id, took := i.since(res.Request.Context())
	if res.IsError() {
		i.tel.ReportWarning(
			report_resty_status,
			fmt.Errorf("%s %s: %s", res.Request.Method, res.Request.URL, res.Status()),
			id,
			took.String(),
		)
		return nil
	}
	i.tel.ReportDebug(report_resty_response, id, took.String(), res.Status())
	return nil
}

func (i instrumentResty) onError(req *resty.Request, err error) {
	id, took := i.since(req.Context())
	i.tel.ReportBroken(
		report_resty_response,
		err,
		id,
		req.Method,
		req.URL,
		took.String(),
	)
}
