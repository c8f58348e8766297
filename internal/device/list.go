package device

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// List writes one line per attached port. Ports without a USB identity
// show "-" in the VID:PID column.
func List(w io.Writer, enum Enumerator) error {
	ports, err := enum.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		_, err := fmt.Fprintln(w, "No serial ports found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tVID:PID\tSERIAL\tPRODUCT")
	for _, p := range ports {
		id := "-"
		if p.HasIdentity {
			id = p.Identity.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, id, dash(p.SerialNumber), dash(p.Product))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
