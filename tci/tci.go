// Package tci feeds the IQ stream of a TCI capable SDR into the receiver and shows the VFOs as spots on the
// panorama of the SDR.
package tci

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	tci "github.com/ftl/tci/client"

	"github.com/ftl/multirx/demod"
	"github.com/ftl/multirx/vfo"
)

const (
	defaultHostname = "localhost"
	defaultPort     = 40001
	timeout         = 10 * time.Second
	partCount       = 4

	// SampleRate is the IQ sample rate requested from the SDR.
	SampleRate = 48000
	// BlockSize is the number of IQ samples per block handed to the receiver.
	BlockSize = 2048 / partCount

	spotSource = "multirx"
)

// Receiver consumes the IQ stream.
type Receiver interface {
	Start(sampleRate int, blockSize int)
	Stop()
	SetCenterFrequency(frequency float64)
	IQData(sampleRate int, data []float32)
}

type Process struct {
	client   *tci.Client
	listener *tciListener
	trx      int
	receiver Receiver
	spots    map[vfo.ID]spot

	opAsync chan func()
	close   chan struct{}
	closed  chan struct{}
}

type spot struct {
	label     string
	mode      tci.Mode
	frequency int
	color     tci.ARGB
}

func New(host string, trx int, receiver Receiver, traceTCI bool) (*Process, error) {
	tcpHost, err := parseTCPAddrArg(host, defaultHostname, defaultPort)
	if err != nil {
		return nil, fmt.Errorf("invalid TCI host: %v", err)
	}
	if tcpHost.Port == 0 {
		tcpHost.Port = defaultPort
	}

	client := tci.KeepOpen(tcpHost, timeout, traceTCI)

	result := &Process{
		client:   client,
		trx:      trx,
		receiver: receiver,
		spots:    make(map[vfo.ID]spot),
		opAsync:  make(chan func(), 10),
		close:    make(chan struct{}),
		closed:   make(chan struct{}),
	}
	result.listener = &tciListener{process: result, trx: result.trx}
	go result.run()

	client.Notify(result.listener)

	return result, nil
}

func (p *Process) Close() {
	select {
	case <-p.close:
		return
	default:
		close(p.close)
		<-p.closed
	}
}

func (p *Process) run() {
	for {
		select {
		case op := <-p.opAsync:
			op()
		case <-p.close:
			p.deleteSpots()
			p.client.StopIQ(p.trx)
			p.receiver.Stop()
			close(p.closed)
			return
		}
	}
}

func (p *Process) doAsync(f func()) {
	select {
	case p.opAsync <- f:
	case <-p.close:
	}
}

func (p *Process) onConnected(connected bool) {
	if !connected {
		log.Print("TCI disconnected")
		return
	}

	p.receiver.Start(SampleRate, BlockSize)

	p.client.SetIQSampleRate(SampleRate)
	p.client.StartIQ(p.trx)
	p.doAsync(p.refreshSpots)
}

// VFO spots

var (
	activeColor tci.ARGB = tci.NewARGB(255, 0, 255, 0)
	idleColor   tci.ARGB = tci.NewARGB(255, 128, 128, 128)
	errorColor  tci.ARGB = tci.NewARGB(255, 255, 0, 0)
)

var tciModes = map[demod.Mode]tci.Mode{
	demod.AM:  tci.ModeAM,
	demod.FM:  tci.ModeNFM,
	demod.NFM: tci.ModeNFM,
	demod.WFM: tci.ModeWFM,
	demod.USB: tci.ModeUSB,
	demod.LSB: tci.ModeLSB,
	demod.CW:  tci.ModeCW,
}

func spotMode(mode demod.Mode) tci.Mode {
	result, ok := tciModes[mode]
	if !ok {
		return tci.ModeUSB
	}
	return result
}

func spotColor(status vfo.Status) tci.ARGB {
	switch status {
	case vfo.Active:
		return activeColor
	case vfo.Error:
		return errorColor
	default:
		return idleColor
	}
}

func spotLabel(state vfo.State) string {
	return fmt.Sprintf("VFO%d %s", state.ID, state.Mode)
}

func (p *Process) VFOAdded(state vfo.State) {
	p.doAsync(func() {
		p.showSpot(state)
	})
}

func (p *Process) VFOUpdated(state vfo.State) {
	p.doAsync(func() {
		p.showSpot(state)
	})
}

func (p *Process) VFORemoved(id vfo.ID) {
	p.doAsync(func() {
		p.hideSpot(id)
	})
}

func (p *Process) VFOWarning(vfo.Warning) {}

func (p *Process) showSpot(state vfo.State) {
	next := spot{
		label:     spotLabel(state),
		mode:      spotMode(state.Mode),
		frequency: int(state.CenterHz),
		color:     spotColor(state.Status),
	}
	if current, ok := p.spots[state.ID]; ok {
		if current == next {
			return
		}
		p.client.DeleteSpot(current.label)
	}
	p.spots[state.ID] = next
	if !p.client.Connected() {
		return
	}
	p.client.AddSpot(next.label, next.mode, next.frequency, next.color, spotSource)
}

func (p *Process) hideSpot(id vfo.ID) {
	current, ok := p.spots[id]
	if !ok {
		return
	}
	delete(p.spots, id)
	p.client.DeleteSpot(current.label)
}

func (p *Process) refreshSpots() {
	for _, s := range p.spots {
		p.client.AddSpot(s.label, s.mode, s.frequency, s.color, spotSource)
	}
}

func (p *Process) deleteSpots() {
	for id, s := range p.spots {
		p.client.DeleteSpot(s.label)
		delete(p.spots, id)
	}
}

type tciListener struct {
	process *Process
	trx     int
}

func (l *tciListener) Connected(connected bool) {
	l.process.onConnected(connected)
}

func (l *tciListener) SetDDS(trx int, frequency int) {
	if trx != l.trx {
		return
	}

	l.process.receiver.SetCenterFrequency(float64(frequency))
}

func (l *tciListener) IQData(trx int, sampleRate tci.IQSampleRate, data []float32) {
	if trx != l.trx {
		return
	}

	partLen := len(data) / partCount
	for i := 0; i < partCount; i++ {
		begin := i * partLen
		end := begin + partLen
		l.process.receiver.IQData(int(sampleRate), data[begin:end])
	}
}

// TCP address handling

func parseTCPAddrArg(arg string, defaultHost string, defaultPort int) (*net.TCPAddr, error) {
	host, port := splitHostPort(arg)
	if host == "" {
		host = defaultHost
	}
	if port == "" {
		port = strconv.Itoa(defaultPort)
	}

	return net.ResolveTCPAddr("tcp", fmt.Sprintf("%s:%s", host, port))
}

func splitHostPort(hostport string) (host, port string) {
	host = hostport

	colon := strings.LastIndexByte(host, ':')
	if colon != -1 && validOptionalPort(host[colon:]) {
		host, port = host[:colon], host[colon+1:]
	}

	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}

	return
}

func validOptionalPort(port string) bool {
	if port == "" {
		return true
	}
	if port[0] != ':' {
		return false
	}
	for _, b := range port[1:] {
		if b < '0' || b > '9' {
			return false
		}
	}
	return true
}
