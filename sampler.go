package gpucmd

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"
)

type samplerAlloc struct {
	allocation
	sampler hal.Sampler
	compare bool
}

// Sampler describes how shaders filter and address a texture.
type Sampler struct {
	h handle[*samplerAlloc]
}

// CreateSampler creates a sampler. MipLODBias has no hal equivalent and is
// ignored.
func (d *Device) CreateSampler(info *SamplerCreateInfo) (*Sampler, error) {
	if !d.IsValid() {
		return nil, ErrDeviceInvalid
	}
	if info == nil {
		return nil, fmt.Errorf("%w: nil SamplerCreateInfo", ErrInvalidDescriptor)
	}
	if info.MaxLOD != 0 && info.MaxLOD < info.MinLOD {
		return nil, fmt.Errorf("%w: max LOD %v < min LOD %v", ErrInvalidDescriptor, info.MaxLOD, info.MinLOD)
	}
	if info.MipLODBias != 0 {
		Logger().Debug("gpucmd: sampler LOD bias not supported, ignoring", "name", info.Name, "bias", info.MipLODBias)
	}

	smp, err := d.dev.CreateSampler(samplerDescriptor(info))
	if err != nil {
		return nil, wrapCreateErr("sampler", err)
	}
	a := &samplerAlloc{sampler: smp, compare: info.EnableCompare}
	a.device = d
	a.destroyFn = func() { d.dev.DestroySampler(smp) }

	s := &Sampler{}
	s.h.init(d, a, info.Name)
	if err := d.track(s); err != nil {
		a.destroy()
		return nil, err
	}
	return s, nil
}

func (s *Sampler) current() (*samplerAlloc, bool) {
	if s == nil {
		return nil, false
	}
	return s.h.load()
}

// IsValid reports whether the sampler is live.
func (s *Sampler) IsValid() bool {
	return s != nil && s.h.valid()
}

// SetName sets the debug name.
func (s *Sampler) SetName(name string) {
	if s == nil || !s.h.setName(name) {
		logMisuse("Sampler.SetName", "sampler is invalid")
	}
}

// Release releases the sampler. Release is idempotent.
func (s *Sampler) Release() {
	if s == nil {
		return
	}
	a, ok := s.h.take()
	if !ok {
		return
	}
	a.device.untrack(s)
	a.device.retire(&a.allocation)
}

func (s *Sampler) kindName() string { return "Sampler" }
func (s *Sampler) label() string    { return s.h.label() }
