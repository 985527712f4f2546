// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package connmetrics

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"

	"landscape.router/core/internal/ebpf/types"
	"landscape.router/core/internal/errors"
)

// ringbufSource is the production RingSource backed by a real kernel
// ringbuffer map, one per {firewall-event, firewall-metric, nat-metric}
// (§4.10).
type ringbufSource struct {
	reader *ringbuf.Reader
}

// NewRingbufSource opens a ringbuf.Reader over m.
func NewRingbufSource(m *ebpf.Map) (RingSource, error) {
	r, err := ringbuf.NewReader(m)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindDatapathAttach, "open ringbuf reader")
	}
	return &ringbufSource{reader: r}, nil
}

func (s *ringbufSource) SetDeadline(t time.Time) error {
	return s.reader.SetDeadline(t)
}

func (s *ringbufSource) Read() (types.ConnectMetric, error) {
	rec, err := s.reader.Read()
	if err != nil {
		return types.ConnectMetric{}, err
	}
	return decodeConnectMetric(rec.RawSample)
}

// decodeConnectMetric decodes a ringbuffer record written by the
// datapath in native byte order and field order matching
// types.ConnectMetric; every field is a fixed-size integer or byte
// array, so binary.Read's sequential field decode applies directly.
func decodeConnectMetric(raw []byte) (types.ConnectMetric, error) {
	var m types.ConnectMetric
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &m); err != nil {
		return types.ConnectMetric{}, errors.Wrapf(err, errors.KindValidation, "decode connect metric record")
	}
	return m, nil
}
