package mutation

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"

	corev1 "k8s.io/api/core/v1"
)

// containerSignature is the part of a container that distinguishes pod template variants.
type containerSignature struct {
	Image     string                      `json:"image,omitempty"`
	Command   []string                    `json:"command,omitempty"`
	Args      []string                    `json:"args,omitempty"`
	Resources corev1.ResourceRequirements `json:"resources,omitempty"`
}

type specSignature struct {
	InitContainers []containerSignature `json:"initContainers,omitempty"`
	Containers     []containerSignature `json:"containers,omitempty"`
}

// PodSpecHash fingerprints the container images, commands and resources of spec.
// Names, env, probes and everything outside the containers are ignored.
func PodSpecHash(spec *corev1.PodSpec) uint64 {
	sig := specSignature{
		InitContainers: signatures(spec.InitContainers),
		Containers:     signatures(spec.Containers),
	}
	// struct fields and resource lists marshal deterministically
	data, err := json.Marshal(sig)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}

func signatures(containers []corev1.Container) []containerSignature {
	if len(containers) == 0 {
		return nil
	}
	out := make([]containerSignature, 0, len(containers))
	for _, c := range containers {
		out = append(out, containerSignature{
			Image:     c.Image,
			Command:   c.Command,
			Args:      c.Args,
			Resources: c.Resources,
		})
	}
	return out
}
