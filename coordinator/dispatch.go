package coordinator

import (
	"context"
	"regexp"
	"strings"

	"github.com/sysmex-bridge/astmhl7/astm"
)

func splitRecords(astmMsg string) []astm.Record {
	return astm.SplitRecords(astm.NormalizeMessage([]byte(astmMsg)))
}

var (
	qLine = regexp.MustCompile(`(?m)(?:^|\r)[0-7]?Q\|`)
	hLine = regexp.MustCompile(`(?m)(?:^|\r)[0-7]?H\|`)
)

// Route is the transaction a raw assembled ASTM message dispatches to.
type Route int

const (
	// RouteIgnore means the message matched neither Q nor H records and
	// should be dropped without a reply.
	RouteIgnore Route = iota
	RouteLab27
	RouteLab29
)

// Dispatch inspects the raw assembled ASTM message line by line: any line
// matching a Q record routes to LAB-27; else any line matching an H record
// routes to LAB-29; otherwise the message is ignored.
func Dispatch(rawASTM string) Route {
	if qLine.MatchString(rawASTM) {
		return RouteLab27
	}

	if hLine.MatchString(rawASTM) {
		return RouteLab29
	}

	return RouteIgnore
}

// HandleASTM is the MessageHandler the astm.Connection invokes for each
// assembled message from the analyzer: it dispatches to LAB-27 or LAB-29
// and returns the ASTM reply to turn around on the link, or "" for an
// ignored message.
func (c *Coordinator) HandleASTM(ctx context.Context, rawASTM string) string {
	switch Dispatch(rawASTM) {
	case RouteLab27:
		return strings.Join(c.Lab27(ctx, rawASTM), "\r")
	case RouteLab29:
		return c.Lab29(ctx, rawASTM)
	default:
		return ""
	}
}
