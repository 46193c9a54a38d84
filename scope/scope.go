// Package scope streams spectral and time domain frames over gRPC to remote viewers.
//
// Frames travel as google.protobuf.Struct messages, the "kind" field tells the frame types apart.
package scope

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

type StreamID string
type ChannelID string
type MarkerID string

type Frame struct {
	Stream    StreamID
	Timestamp time.Time
}

// TimeFrame holds the values of several channels at one point in time.
type TimeFrame struct {
	Frame
	Values map[ChannelID]float64
}

// SpectralFrame holds one spectrum between two frequencies.
type SpectralFrame struct {
	Frame
	FromFrequency    float64
	ToFrequency      float64
	Values           []float64
	FrequencyMarkers map[MarkerID]float64
	MagnitudeMarkers map[MarkerID]float64
}

// WaterfallFrame holds the latest spectra between two frequencies, the newest row first.
type WaterfallFrame struct {
	Frame
	FromFrequency float64
	ToFrequency   float64
	Rows          [][]float64
}

const (
	timeFrameKind      = "time"
	spectralFrameKind  = "spectral"
	waterfallFrameKind = "waterfall"
)

func encodeHeader(kind string, frame Frame) map[string]*structpb.Value {
	return map[string]*structpb.Value{
		"kind":      structpb.NewStringValue(kind),
		"stream":    structpb.NewStringValue(string(frame.Stream)),
		"timestamp": structpb.NewStringValue(frame.Timestamp.UTC().Format(time.RFC3339Nano)),
	}
}

func encodeTimeFrame(frame *TimeFrame) *structpb.Struct {
	fields := encodeHeader(timeFrameKind, frame.Frame)
	fields["values"] = numberMap(frame.Values)
	return &structpb.Struct{Fields: fields}
}

func encodeSpectralFrame(frame *SpectralFrame) *structpb.Struct {
	fields := encodeHeader(spectralFrameKind, frame.Frame)
	fields["from"] = structpb.NewNumberValue(frame.FromFrequency)
	fields["to"] = structpb.NewNumberValue(frame.ToFrequency)
	fields["values"] = numberList(frame.Values)
	fields["frequencyMarkers"] = numberMap(frame.FrequencyMarkers)
	fields["magnitudeMarkers"] = numberMap(frame.MagnitudeMarkers)
	return &structpb.Struct{Fields: fields}
}

func encodeWaterfallFrame(frame *WaterfallFrame) *structpb.Struct {
	fields := encodeHeader(waterfallFrameKind, frame.Frame)
	fields["from"] = structpb.NewNumberValue(frame.FromFrequency)
	fields["to"] = structpb.NewNumberValue(frame.ToFrequency)
	rows := &structpb.ListValue{Values: make([]*structpb.Value, len(frame.Rows))}
	for i, row := range frame.Rows {
		rows.Values[i] = numberList(row)
	}
	fields["rows"] = structpb.NewListValue(rows)
	return &structpb.Struct{Fields: fields}
}

func numberList(values []float64) *structpb.Value {
	list := &structpb.ListValue{Values: make([]*structpb.Value, len(values))}
	for i, value := range values {
		list.Values[i] = structpb.NewNumberValue(value)
	}
	return structpb.NewListValue(list)
}

func numberMap[K ~string](values map[K]float64) *structpb.Value {
	result := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(values))}
	for k, v := range values {
		result.Fields[string(k)] = structpb.NewNumberValue(v)
	}
	return structpb.NewStructValue(result)
}

func readHeader(raw *structpb.Struct) (Frame, error) {
	result := Frame{
		Stream: StreamID(raw.Fields["stream"].GetStringValue()),
	}
	timestamp := raw.Fields["timestamp"].GetStringValue()
	if timestamp == "" {
		return result, nil
	}
	var err error
	result.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid frame timestamp %q: %w", timestamp, err)
	}
	return result, nil
}

func readTimeFrame(raw *structpb.Struct) (*TimeFrame, error) {
	header, err := readHeader(raw)
	if err != nil {
		return nil, err
	}
	return &TimeFrame{
		Frame:  header,
		Values: readNumberMap[ChannelID](raw.Fields["values"]),
	}, nil
}

func readSpectralFrame(raw *structpb.Struct) (*SpectralFrame, error) {
	header, err := readHeader(raw)
	if err != nil {
		return nil, err
	}
	return &SpectralFrame{
		Frame:            header,
		FromFrequency:    raw.Fields["from"].GetNumberValue(),
		ToFrequency:      raw.Fields["to"].GetNumberValue(),
		Values:           readNumberList(raw.Fields["values"]),
		FrequencyMarkers: readNumberMap[MarkerID](raw.Fields["frequencyMarkers"]),
		MagnitudeMarkers: readNumberMap[MarkerID](raw.Fields["magnitudeMarkers"]),
	}, nil
}

func readWaterfallFrame(raw *structpb.Struct) (*WaterfallFrame, error) {
	header, err := readHeader(raw)
	if err != nil {
		return nil, err
	}
	rows := raw.Fields["rows"].GetListValue().GetValues()
	result := &WaterfallFrame{
		Frame:         header,
		FromFrequency: raw.Fields["from"].GetNumberValue(),
		ToFrequency:   raw.Fields["to"].GetNumberValue(),
		Rows:          make([][]float64, len(rows)),
	}
	for i, row := range rows {
		result.Rows[i] = readNumberList(row)
	}
	return result, nil
}

func readNumberList(value *structpb.Value) []float64 {
	values := value.GetListValue().GetValues()
	result := make([]float64, len(values))
	for i, v := range values {
		result[i] = v.GetNumberValue()
	}
	return result
}

func readNumberMap[K ~string](value *structpb.Value) map[K]float64 {
	fields := value.GetStructValue().GetFields()
	result := make(map[K]float64, len(fields))
	for k, v := range fields {
		result[K(k)] = v.GetNumberValue()
	}
	return result
}
