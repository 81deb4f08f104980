package engine

import "fmt"

// ExportName is the file name of the preview for 1-based slide n.
func ExportName(label string, n int) string {
	return fmt.Sprintf("%s%d.PNG", label, n)
}
