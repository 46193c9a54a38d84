package control

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ftl/multirx/demod"
	"github.com/ftl/multirx/vfo"
)

const help = `commands:
  list                                  list all vfos
  add <id> <frequency> <mode> <width>   add a vfo, frequency and width in Hz
  remove <id>                           remove a vfo
  tune <id> <frequency>                 move a vfo to another frequency
  mode <id> <mode>                      change the mode of a vfo
  width <id> <width>                    change the bandwidth of a vfo
  gain <id> <gain>                      change the audio gain of a vfo
  audio <id> on|off                     switch the audio of a vfo
  quit                                  close the connection
`

type command struct {
	args    int
	execute func(c Controller, args []string) (string, error)
}

var commands = map[string]command{
	"help":   {0, func(Controller, []string) (string, error) { return help, nil }},
	"list":   {0, listVFOs},
	"add":    {4, addVFO},
	"remove": {1, removeVFO},
	"tune":   {2, updateVFO(patchFrequency)},
	"mode":   {2, updateVFO(patchMode)},
	"width":  {2, updateVFO(patchWidth)},
	"gain":   {2, updateVFO(patchGain)},
	"audio":  {2, setAudio},
}

// Execute runs one command line and returns the response. The second result indicates that the
// connection should be closed.
func Execute(c Controller, line string) (string, bool) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return "", false
	}
	if fields[0] == "quit" || fields[0] == "exit" {
		return "bye\n", true
	}

	cmd, ok := commands[fields[0]]
	if !ok {
		return fmt.Sprintf("unknown command %q, enter help for a list of commands\n", fields[0]), false
	}
	args := fields[1:]
	if len(args) != cmd.args {
		return fmt.Sprintf("%s needs %d arguments\n", fields[0], cmd.args), false
	}

	response, err := cmd.execute(c, args)
	if err != nil {
		return fmt.Sprintf("error: %v\n", err), false
	}
	return response, false
}

func formatState(state vfo.State) string {
	audio := "off"
	if state.AudioEnabled {
		audio = "on"
	}
	result := fmt.Sprintf("%s %s, audio %s", state.Config, state.Status, audio)
	if state.Metrics.SamplesProcessed > 0 {
		result += fmt.Sprintf(", rssi %.1fdB", state.Metrics.RSSI)
	}
	if state.Metrics.SNR != nil {
		result += fmt.Sprintf(", snr %.1fdB", *state.Metrics.SNR)
	}
	return result
}

func listVFOs(c Controller, _ []string) (string, error) {
	states := c.VFOs()
	if len(states) == 0 {
		return "no vfos\n", nil
	}
	var b strings.Builder
	for _, state := range states {
		b.WriteString(formatState(state))
		b.WriteString("\n")
	}
	return b.String(), nil
}

func parseID(s string) (vfo.ID, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid vfo id %q", s)
	}
	return vfo.ID(id), nil
}

func parseHz(s string) (float64, error) {
	value, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("invalid frequency %q", s)
	}
	return value, nil
}

func addVFO(c Controller, args []string) (string, error) {
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	frequency, err := parseHz(args[1])
	if err != nil {
		return "", err
	}
	mode, err := demod.ParseMode(args[2])
	if err != nil {
		return "", err
	}
	width, err := parseHz(args[3])
	if err != nil {
		return "", err
	}

	state, err := c.AddVFO(vfo.Config{ID: id, CenterHz: frequency, Mode: mode, BandwidthHz: width})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("added %s\n", formatState(state)), nil
}

func removeVFO(c Controller, args []string) (string, error) {
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	if !c.RemoveVFO(id) {
		return "", fmt.Errorf("unknown vfo %d", id)
	}
	return fmt.Sprintf("removed vfo %d\n", id), nil
}

type patchFunc func(string) (vfo.Patch, error)

func patchFrequency(s string) (vfo.Patch, error) {
	value, err := parseHz(s)
	return vfo.Patch{CenterHz: &value}, err
}

func patchMode(s string) (vfo.Patch, error) {
	mode, err := demod.ParseMode(s)
	return vfo.Patch{Mode: &mode}, err
}

func patchWidth(s string) (vfo.Patch, error) {
	value, err := parseHz(s)
	return vfo.Patch{BandwidthHz: &value}, err
}

func patchGain(s string) (vfo.Patch, error) {
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return vfo.Patch{}, fmt.Errorf("invalid gain %q", s)
	}
	return vfo.Patch{AudioGain: &value}, nil
}

func updateVFO(patch patchFunc) func(Controller, []string) (string, error) {
	return func(c Controller, args []string) (string, error) {
		id, err := parseID(args[0])
		if err != nil {
			return "", err
		}
		p, err := patch(args[1])
		if err != nil {
			return "", err
		}
		found, err := c.UpdateVFO(id, p)
		if !found {
			return "", fmt.Errorf("unknown vfo %d", id)
		}
		if err != nil {
			return "", err
		}
		return "ok\n", nil
	}
}

func setAudio(c Controller, args []string) (string, error) {
	id, err := parseID(args[0])
	if err != nil {
		return "", err
	}
	var enabled bool
	switch args[1] {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return "", fmt.Errorf("audio is either on or off, not %q", args[1])
	}
	found, err := c.SetAudioEnabled(id, enabled)
	if !found {
		return "", fmt.Errorf("unknown vfo %d", id)
	}
	if err != nil {
		return "", err
	}
	return "ok\n", nil
}
