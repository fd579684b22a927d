package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/twinplay/internal/audiocore"
)

// Output formats accepted by ListDevices
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// DeviceListing is the structured form of the devices command output
type DeviceListing struct {
	Platform  string                    `json:"platform" yaml:"platform"`
	Outputs   []audiocore.AudioEndpoint `json:"outputs" yaml:"outputs"`
	Loopbacks []audiocore.AudioEndpoint `json:"loopbacks" yaml:"loopbacks"`
	Inputs    []audiocore.AudioEndpoint `json:"inputs" yaml:"inputs"`
}

// ListDevices enumerates platform endpoints and writes them to w
func ListDevices(ctx context.Context, platform audiocore.Platform, w io.Writer, format string) error {
	catalog, err := loadCatalog(ctx, platform)
	if err != nil {
		return err
	}

	listing := DeviceListing{
		Platform:  platform.Name(),
		Outputs:   catalog.Outputs(),
		Loopbacks: catalog.Loopbacks(),
		Inputs:    catalog.Inputs(),
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(listing); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		return writeDeviceTable(w, listing)
	default:
		return fmt.Errorf("unknown output format %q, use text, json or yaml", format)
	}
}

func writeDeviceTable(w io.Writer, listing DeviceListing) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Platform: %s\n\n", listing.Platform)

	sections := []struct {
		title     string
		endpoints []audiocore.AudioEndpoint
	}{
		{"Outputs", listing.Outputs},
		{"Loopbacks", listing.Loopbacks},
		{"Inputs", listing.Inputs},
	}
	for _, s := range sections {
		fmt.Fprintf(tw, "%s:\n", s.title)
		if len(s.endpoints) == 0 {
			fmt.Fprintln(tw, "  (none)")
		}
		for _, ep := range s.endpoints {
			marker := " "
			if ep.IsDefault {
				marker = "*"
			}
			fmt.Fprintf(tw, " %s %s\t%s\t%d ch\t%d Hz\n", marker, ep.Name, ep.ID, ep.Channels(), ep.DefaultSampleRate)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
