package engine

// sampleLimit caps how many item labels each preview bucket lists. Counts in
// the result stay exact; only the listing is truncated.
const sampleLimit = 10

// Simulate produces the result a real run over the same snapshots would
// report, without touching the adapters or the mapping store. The bucket
// computation is shared with the executor path ([BuildPlan] plus the guard),
// so preview counts and applied counts can never drift apart.
func Simulate(plan *Plan) Result {
	res := resultFromPlan(plan)
	res.Simulated = true
	res.Samples = collectSamples(plan)
	return res
}

func collectSamples(p *Plan) *Samples {
	updates := make([]Entry, 0, len(p.UpdateRemote)+len(p.UpdateLocal))
	updates = append(updates, p.UpdateRemote...)
	updates = append(updates, p.UpdateLocal...)

	return &Samples{
		CreateRemote: sampleLabels(p.CreateRemote),
		CreateLocal:  sampleLabels(p.CreateLocal),
		Update:       sampleLabels(updates),
		DeleteRemote: sampleLabels(p.DeleteRemote),
		DeleteLocal:  sampleLabels(p.DeleteLocal),
	}
}

func sampleLabels(entries []Entry) []string {
	if len(entries) == 0 {
		return nil
	}
	n := len(entries)
	if n > sampleLimit {
		n = sampleLimit
	}
	labels := make([]string, n)
	for i := 0; i < n; i++ {
		labels[i] = entries[i].Label
	}
	return labels
}
