package activity

// DedupeLatest collapses repeated ids to the copy with the highest sequence.
// On equal sequences the later copy wins. Output keeps first-seen id order.
func DedupeLatest(events []RawEvent) []RawEvent {
	index := make(map[string]int, len(events))
	out := make([]RawEvent, 0, len(events))
	for _, evt := range events {
		i, ok := index[evt.ID]
		if !ok {
			index[evt.ID] = len(out)
			out = append(out, evt)
			continue
		}
		if evt.Sequence >= out[i].Sequence {
			out[i] = evt
		}
	}
	return out
}
