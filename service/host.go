package service

import (
	"strings"

	"github.com/ipastusi/jsonlatch/memory"
	"github.com/ipastusi/jsonlatch/result"
)

// Report is an owned copy of a result record and its transcript.
type Report struct {
	OK         bool
	Transcript string
}

// Lines splits the transcript into one entry per error record.
func (r Report) Lines() []string {
	if r.Transcript == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(r.Transcript, "\n"), "\n")
}

// Host drives a Service the way an embedding runtime does: it copies inputs
// into module memory, calls across the boundary and copies the result out
// before anything else can overwrite it.
type Host struct {
	service *Service
}

func NewHost(service *Service) Host {
	return Host{service: service}
}

func (h Host) Check(doc []byte, schema []byte) (bool, error) {
	docAddr, schemaAddr, err := h.place(doc, schema)
	if err != nil {
		return false, err
	}
	return h.service.Validate(docAddr, uint32(len(doc)), schemaAddr, uint32(len(schema)))
}

func (h Host) Detail(doc []byte, schema []byte) (Report, error) {
	docAddr, schemaAddr, err := h.place(doc, schema)
	if err != nil {
		return Report{}, err
	}
	recordAddr, err := h.service.ValidateWithErrors(docAddr, uint32(len(doc)), schemaAddr, uint32(len(schema)))
	if err != nil {
		return Report{}, err
	}

	record, transcript, err := result.Load(h.service.heap, recordAddr)
	if err != nil {
		return Report{}, err
	}
	return Report{
		OK:         record.OK,
		Transcript: string(transcript),
	}, nil
}

func (h Host) place(doc []byte, schema []byte) (memory.Address, memory.Address, error) {
	docAddr, err := h.write(doc)
	if err != nil {
		return 0, 0, err
	}
	schemaAddr, err := h.write(schema)
	if err != nil {
		return 0, 0, err
	}
	return docAddr, schemaAddr, nil
}

func (h Host) write(data []byte) (memory.Address, error) {
	addr, err := h.service.Allocate(uint32(len(data)))
	if err != nil {
		return 0, err
	}
	return addr, h.service.heap.Write(addr, data)
}
