// Package coordinator implements the transaction coordinator (component F)
// and the dispatcher (component H): routing an assembled ASTM message to
// the right LAB transaction, archiving it, running the ASTM<->HL7
// conversion, calling the upstream LIS adapter, and converting the reply
// back.
package coordinator

import (
	"context"
	"time"

	"github.com/sysmex-bridge/astmhl7/logger"
	"github.com/sysmex-bridge/astmhl7/mapping"
	"github.com/sysmex-bridge/astmhl7/translate"
)

// Upstream posts an HL7 message to the LIS at url and returns its reply.
type Upstream interface {
	Send(ctx context.Context, url, hl7Msg string) (string, error)
}

// Archiver persists a raw message for audit, tagged with a transaction
// label and a direction.
type Archiver interface {
	Archive(label, direction, raw string) error
}

// Config holds the per-connection settings the coordinator needs beyond
// the mapping table itself: where to send each transaction's HL7 traffic.
type Config struct {
	URLUpstreamLAB27 string
	URLUpstreamLAB29 string
}

// Coordinator implements lab27/lab28/lab29 end to end.
type Coordinator struct {
	cfg      Config
	table    *mapping.Table
	upstream Upstream
	archiver Archiver
	logger   logger.Logger
	now      func() time.Time
}

// New builds a Coordinator. now defaults to time.Now if nil; tests can
// substitute a fixed clock.
func New(cfg Config, table *mapping.Table, upstream Upstream, archiver Archiver, l logger.Logger, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}

	return &Coordinator{cfg: cfg, table: table, upstream: upstream, archiver: archiver, logger: l, now: now}
}

// Lab29 implements IHE LAB-29 (result upload): analyzer → LIS.
//
// It archives the inbound message, converts it to OUL^R22, special-cases
// the background-check specimen ID, posts to the LIS, and converts the
// reply back into the analyzer's ASTM "L" termination record.
func (c *Coordinator) Lab29(ctx context.Context, astmMsg string) string {
	_ = c.archiver.Archive("LAB-29", "Analyzer", astmMsg)

	sid := firstOSpecimenID(astmMsg)
	if translate.IsBackgroundCheck(sid) {
		c.logger.Info("coordinator: background check, not forwarding upstream", "specimenID", sid)

		return "L|1|Y"
	}

	oul := translate.ASTMToOUL_R22(astmMsg, c.table, c.now())

	reply, err := c.upstream.Send(ctx, c.cfg.URLUpstreamLAB29, oul)
	if err != nil {
		c.logger.Warn("coordinator: lab29 upstream call failed", "error", err)

		return "L|1|N"
	}

	return translate.ACKToASTM(reply)
}

// Lab27 implements IHE LAB-27 (worklist query): analyzer → LIS → analyzer.
func (c *Coordinator) Lab27(ctx context.Context, astmMsg string) []string {
	_ = c.archiver.Archive("LAB-27", "Analyzer", astmMsg)

	qbp := translate.ASTMQueryToQBP_Q11(astmMsg, c.now())

	reply, err := c.upstream.Send(ctx, c.cfg.URLUpstreamLAB27, qbp)
	if err != nil {
		c.logger.Warn("coordinator: lab27 upstream call failed", "error", err)

		return translate.ResultBlockRecords("")
	}

	return translate.ResultBlockFromRSP_K11(reply)
}

// Lab28 implements IHE LAB-28 (order download): LIS → analyzer → LIS ack.
//
// send is the caller's mechanism for driving the ASTM sender protocol over
// the live analyzer link; it returns whether the transfer succeeded.
func (c *Coordinator) Lab28(ctx context.Context, oml string, send func(ctx context.Context, records []string) error) string {
	_ = c.archiver.Archive("LAB-28", "LIS", oml)

	records := translate.OMLToASTM(oml)

	err := send(ctx, records)
	if err != nil {
		c.logger.Warn("coordinator: lab28 send to analyzer failed", "error", err)
	}

	return translate.AckR22(oml, err == nil, c.now())
}

// Info reports the coordinator's static configuration, for a diagnostics
// or health-check caller.
type Info struct {
	URLUpstreamLAB27 string
	URLUpstreamLAB29 string
	MappingRowCount  int
}

// Info returns the coordinator's current configuration snapshot.
func (c *Coordinator) Info() Info {
	return Info{
		URLUpstreamLAB27: c.cfg.URLUpstreamLAB27,
		URLUpstreamLAB29: c.cfg.URLUpstreamLAB29,
		MappingRowCount:  len(c.table.Rows),
	}
}

// firstOSpecimenID scans astmMsg for its first O record and returns its
// specimen ID, or "" if there is none.
func firstOSpecimenID(astmMsg string) string {
	for _, rec := range splitRecords(astmMsg) {
		if rec.Type == 'O' {
			return translate.ExtractSpecimenIDFromO(rec)
		}
	}

	return ""
}
