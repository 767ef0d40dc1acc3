package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"kitefeed/internal/models"
)

// Color codes for terminal output
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorDim   = "\033[2m"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates a new Output instance.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &Output{
		writer:       cmd.OutOrStdout(),
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && isTerminal(),
	}
}

// isTerminal checks if stdout is a terminal.
func isTerminal() bool {
	fileInfo, _ := os.Stdout.Stat()
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// Printf writes a formatted line unless JSON mode is active.
func (o *Output) Printf(format string, args ...interface{}) {
	if o.jsonMode {
		return
	}
	fmt.Fprintf(o.writer, format, args...)
}

// PrintJSON writes any value as indented JSON.
func (o *Output) PrintJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(o.writer, "error encoding output: %v\n", err)
		return
	}
	fmt.Fprintln(o.writer, string(data))
}

// PrintTick writes one tick, one line per tick in text mode.
func (o *Output) PrintTick(tick models.Tick) {
	if o.jsonMode {
		o.PrintJSON(tick)
		return
	}

	change := fmt.Sprintf("%+.2f", tick.NetChange)
	if o.colorEnabled {
		if tick.NetChange >= 0 {
			change = colorGreen + change + colorReset
		} else {
			change = colorRed + change + colorReset
		}
	}
	fmt.Fprintf(o.writer, "%-10d %-5s ltp=%.2f %s vol=%d\n",
		tick.InstrumentToken, tick.Mode, tick.LastPrice, change, tick.VolumeTraded)
}

// PrintOrder writes an order update.
func (o *Output) PrintOrder(order models.Order) {
	if o.jsonMode {
		o.PrintJSON(order)
		return
	}
	fmt.Fprintf(o.writer, "order %s %s %s qty=%.0f status=%s\n",
		order.OrderID, order.TransactionType, order.TradingSymbol,
		order.Quantity, order.Status)
}

// Dim writes a de-emphasized informational line.
func (o *Output) Dim(format string, args ...interface{}) {
	if o.jsonMode {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if o.colorEnabled {
		msg = colorDim + msg + colorReset
	}
	fmt.Fprintln(o.writer, msg)
}
