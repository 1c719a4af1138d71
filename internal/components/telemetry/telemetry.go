package telemetry

import (
	"fmt"
)

// API is how components report what happened to them. Tests swap in a
// RecorderAPI to assert on reports.
type API interface {
	// ReportBroken reports a component that failed and needs attention.
	//
	// The id names the component, not the line that failed: when the rhid
	// export cannot find its link the id is `rhid(delta): export-csv`, the
	// scope comes from NewScopedAPI and the component from a `report_*`
	// constant. Ids are lowercase, words in a component are joined with
	// dashes.
	ReportBroken(id string, params ...any)

	// ReportWarning reports something unexpected that did not stop the
	// component, such as a filter value the page did not keep.
	ReportWarning(id string, params ...any)

	// ReportDebug reports progress, it is only visible with debug logging.
	ReportDebug(msg string, params ...any)

	// ReportCount reports a count observed now, counts are points in time
	// and are not summed.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with a namespace, usually the portal or
// package doing the reporting.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) scope(id string) string {
	return fmt.Sprintf("%s: %s", s.namespace, id)
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.scope(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.scope(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.scope(msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.scope(id), count)
}
