package gpuflow

// GroupCount returns the number of workgroups of size local needed to
// cover domain: ceil(domain/local) in each dimension.
//
// The result is never clamped. A caller that dispatches fewer groups than
// GroupCount returns leaves part of the domain unprocessed, and a kernel
// run over more must bounds-check its invocation ID.
func GroupCount(domain, local [3]uint32) [3]uint32 {
	var g [3]uint32
	for i := range g {
		l := max(local[i], 1)
		g[i] = domain[i]/l + min(domain[i]%l, 1)
	}
	return g
}
