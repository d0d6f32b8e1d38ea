package admission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Probe samples the device.
type Probe interface {
	Probe(ctx context.Context) (DeviceInfo, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) (DeviceInfo, error)

func (f ProbeFunc) Probe(ctx context.Context) (DeviceInfo, error) { return f(ctx) }

// CPUProbe always reports a CPU-only host.
type CPUProbe struct{}

func (CPUProbe) Probe(context.Context) (DeviceInfo, error) {
	return DeviceInfo{Kind: DeviceCPU, Name: "cpu", Valid: true}, nil
}

// NvidiaSMI queries nvidia-smi for memory figures of one GPU.
type NvidiaSMI struct {
	Binary string
	GPUID  int
	// FallbackCPU reports a CPU host instead of an error when the binary is
	// not installed (device: auto).
	FallbackCPU bool
}

func (p NvidiaSMI) Probe(ctx context.Context) (DeviceInfo, error) {
	bin := p.Binary
	if bin == "" {
		bin = "nvidia-smi"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		if p.FallbackCPU && errors.Is(err, exec.ErrNotFound) {
			return CPUProbe{}.Probe(ctx)
		}
		return DeviceInfo{Kind: DeviceCUDA}, err
	}
	cmd := exec.CommandContext(ctx, path,
		"--query-gpu=name,memory.total,memory.used,memory.free",
		"--format=csv,noheader,nounits",
		"-i", strconv.Itoa(p.GPUID),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if p.FallbackCPU {
			return CPUProbe{}.Probe(ctx)
		}
		return DeviceInfo{Kind: DeviceCUDA}, fmt.Errorf("nvidia-smi: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseNvidiaSMI(out)
}

// parseNvidiaSMI parses "name, total, used, free" (MiB) from the first line.
func parseNvidiaSMI(out []byte) (DeviceInfo, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return DeviceInfo{Kind: DeviceCUDA}, fmt.Errorf("nvidia-smi: unexpected output %q", line)
	}
	var mb [3]int64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseInt(strings.TrimSpace(fields[i+1]), 10, 64)
		if err != nil {
			return DeviceInfo{Kind: DeviceCUDA}, fmt.Errorf("nvidia-smi: field %d: %w", i+1, err)
		}
		mb[i] = v
	}
	return DeviceInfo{
		Kind:       DeviceCUDA,
		Name:       strings.TrimSpace(fields[0]),
		TotalBytes: mb[0] * mib,
		UsedBytes:  mb[1] * mib,
		FreeBytes:  mb[2] * mib,
		Valid:      mb[0] > 0,
	}, nil
}

// NewProbe picks the probe for a configured device (auto, cpu, cuda).
func NewProbe(device string, gpuID int) Probe {
	switch device {
	case "cpu":
		return CPUProbe{}
	case "cuda":
		return NvidiaSMI{GPUID: gpuID}
	default:
		return NvidiaSMI{GPUID: gpuID, FallbackCPU: true}
	}
}
