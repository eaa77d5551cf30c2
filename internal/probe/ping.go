package probe

import (
	"context"
	"fmt"
	"time"

	consts "github.com/khanhnv2901/netlab/internal/shared/constants"
	apperrors "github.com/khanhnv2901/netlab/internal/shared/errors"
)

// Pinger measures TCP connect round trips with sequential attempts.
type Pinger struct {
	Connector PortConnector
	Timeout   time.Duration // per attempt
}

// Ping connects attempts times to target:port, one after another. RTTs holds
// one entry per successful attempt in attempt order. When no attempt succeeds
// the report is still returned together with the last ConnectError.
func (p *Pinger) Ping(ctx context.Context, target *Target, port uint16, attempts int) (*PingReport, error) {
	if port == 0 {
		return nil, invalid("port", apperrors.ErrInvalidPort)
	}
	if attempts < 1 || attempts > consts.MaxPingAttempts {
		return nil, &ValidationError{
			Field:  "attempts",
			Reason: fmt.Sprintf("must be between 1 and %d", consts.MaxPingAttempts),
		}
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = consts.DefaultPingTimeout
	}

	report := &PingReport{
		Host:       target.Host(),
		ResolvedIP: target.ResolvedIP(),
		Port:       port,
		Attempts:   attempts,
		RTTs:       make([]float64, 0, attempts),
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			lastErr = &ConnectError{Address: target.dialAddress(port), Err: err}
			break
		}
		elapsed, err := p.Connector.Connect(ctx, target, port, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		report.RTTs = append(report.RTTs, millis(elapsed))
	}

	report.Received = len(report.RTTs)
	report.Summary = summarize(report.RTTs)
	if report.Received == 0 {
		return report, lastErr
	}
	return report, nil
}

func summarize(rtts []float64) *RTTSummary {
	if len(rtts) == 0 {
		return nil
	}
	s := &RTTSummary{Min: rtts[0], Max: rtts[0]}
	var total float64
	for _, v := range rtts {
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
		total += v
	}
	s.Avg = total / float64(len(rtts))
	return s
}
