package internaldefs

import (
	serversession "github.com/oidckit/serversession"
)

// CounterDef binds one engine counter to its stable exported name.
type CounterDef struct {
	ID   serversession.MetricID
	Name string
	Help string
}

// CounterDefs lists every engine counter with its exported metric name.
// Exporters iterate this slice so they all publish identical names.
var CounterDefs = []CounterDef{
	{ID: serversession.MetricSessionCreated, Name: "serversession_session_created_total", Help: "New session records."},
	{ID: serversession.MetricSessionReplaced, Name: "serversession_session_replaced_total", Help: "Session records overwritten by a repeated login on the same session id."},
	{ID: serversession.MetricSessionUpdated, Name: "serversession_session_updated_total", Help: "Ticket re-serializations (refresh, sliding extension)."},
	{ID: serversession.MetricSessionDeleted, Name: "serversession_session_deleted_total", Help: "Explicitly deleted session records."},
	{ID: serversession.MetricSessionExpired, Name: "serversession_session_expired_total", Help: "Session records removed by the cleanup sweep."},
	{ID: serversession.MetricTicketRejected, Name: "serversession_ticket_rejected_total", Help: "Tickets that failed authentication or decoding."},
	{ID: serversession.MetricCleanupSweep, Name: "serversession_cleanup_sweep_total", Help: "Completed cleanup sweep iterations."},
	{ID: serversession.MetricCleanupFailure, Name: "serversession_cleanup_failure_total", Help: "Cleanup sweeps aborted by a store failure."},
	{ID: serversession.MetricRevocationRun, Name: "serversession_revocation_run_total", Help: "Revocation orchestrations."},
	{ID: serversession.MetricBackchannelSent, Name: "serversession_backchannel_sent_total", Help: "Delivered backchannel logout notifications."},
	{ID: serversession.MetricBackchannelFailed, Name: "serversession_backchannel_failed_total", Help: "Backchannel logout notifications that could not be delivered."},
}
