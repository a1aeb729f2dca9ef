package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/forest6511/volumectl/pkg/volume"
)

// PrintVolumes writes records as an aligned table.
func PrintVolumes(w io.Writer, records []volume.Record, root string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPLACEMENT\tTYPE\tHASH\tPATH")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.Name, placement(rec.Hidden), rec.Type, yesNo(rec.HasVerificationHash()), rec.Path(root))
	}
	return tw.Flush()
}

// PrintVolume writes every non-secret field of rec.
func PrintVolume(w io.Writer, rec *volume.Record, root string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "UUID:\t%s\n", rec.UUID)
	fmt.Fprintf(tw, "Name:\t%s\n", rec.Name)
	fmt.Fprintf(tw, "Placement:\t%s\n", placement(rec.Hidden))
	fmt.Fprintf(tw, "Type:\t%s\n", rec.Type)
	fmt.Fprintf(tw, "Verification hash:\t%s\n", yesNo(rec.HasVerificationHash()))
	fmt.Fprintf(tw, "Path:\t%s\n", rec.Path(root))
	return tw.Flush()
}

func placement(hidden bool) string {
	if hidden {
		return "hidden"
	}
	return "visible"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
