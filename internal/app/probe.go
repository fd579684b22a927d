package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tphakala/twinplay/internal/audiocore"
)

// ProbeReport is the result of a negotiation dry run
type ProbeReport struct {
	Selection
	Loopback       audiocore.AudioEndpoint
	PrimaryRates   []uint32
	SecondaryRates []uint32
	Config         audiocore.RouteConfiguration
	Err            error
	Elapsed        time.Duration
}

// Probe resolves the devices, lists the rates each output accepts and runs
// format negotiation without opening any streams for routing.
func Probe(ctx context.Context, platform audiocore.Platform, primary, secondary string) (ProbeReport, error) {
	var report ProbeReport

	if err := platform.Acquire(); err != nil {
		return report, err
	}
	defer func() { _ = platform.Release() }()

	endpoints, err := platform.Endpoints(ctx)
	if err != nil {
		return report, err
	}
	catalog := audiocore.NewCatalog(endpoints)

	sel, err := SelectDevices(catalog, primary, secondary)
	if err != nil {
		return report, err
	}
	report.Selection = sel
	if sel.Primary.ID == sel.Secondary.ID {
		return report, audiocore.ErrSameDevice
	}

	rc := audiocore.NewRateCache(time.Minute)
	defer rc.Flush()

	report.PrimaryRates = audiocore.SupportedRates(ctx, platform, sel.Primary, rc)
	report.SecondaryRates = audiocore.SupportedRates(ctx, platform, sel.Secondary, rc)

	loopback, err := audiocore.ResolveLoopback(catalog, sel.Primary)
	if err != nil {
		report.Err = err
		return report, nil
	}
	report.Loopback = loopback

	start := time.Now()
	report.Config, report.Err = audiocore.NewNegotiator(platform, rc).Negotiate(ctx, sel.Primary, loopback, sel.Secondary)
	report.Elapsed = time.Since(start)
	return report, nil
}

// WriteProbeReport prints report in the CLI text form
func WriteProbeReport(w io.Writer, report ProbeReport) {
	fmt.Fprintf(w, "Primary:   %s\n", audiocore.Describe(report.Primary))
	fmt.Fprintf(w, "           supported rates: %s\n", formatRates(report.PrimaryRates))
	fmt.Fprintf(w, "Secondary: %s\n", audiocore.Describe(report.Secondary))
	fmt.Fprintf(w, "           supported rates: %s\n", formatRates(report.SecondaryRates))
	if report.Loopback.ID != "" {
		fmt.Fprintf(w, "Loopback:  %s\n", audiocore.Describe(report.Loopback))
	}

	if report.Err != nil {
		fmt.Fprintf(w, "\n❌ Negotiation failed: %v\n", report.Err)
		return
	}
	fmt.Fprintf(w, "\n✅ Negotiated %s in %s\n", report.Config.Format, report.Elapsed.Round(time.Millisecond))
	if report.Secondary.MaxOutputChannels < report.Config.Format.Channels {
		fmt.Fprintf(w, "⚠️  Secondary has %d channels, stream has %d\n",
			report.Secondary.MaxOutputChannels, report.Config.Format.Channels)
	}
}

func formatRates(rates []uint32) string {
	if len(rates) == 0 {
		return "none"
	}
	s := ""
	for i, r := range rates {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%d", r)
	}
	return s
}
