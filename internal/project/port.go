package project

// DefaultBasePort is handed to the first project of an empty registry.
const DefaultBasePort = 8001

// NextPort returns max(existing)+1, or base when nothing is registered yet.
// Freed ports are not reused and uniqueness is not re-checked after manual
// edits.
func NextPort(projects []Project, base int) int {
	if base <= 0 {
		base = DefaultBasePort
	}
	highest := 0
	for _, p := range projects {
		if p.Port > highest {
			highest = p.Port
		}
	}
	if highest == 0 {
		return base
	}
	return highest + 1
}
