package monitor

import (
	"fmt"
	"io"
	"strings"
)

// Describe writes the monitor setup followed by a symbolic listing of every
// possible world.
func (m *Monitor) Describe(w io.Writer) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Monitored continuous signals: %v\n", m.continuous)
	fmt.Fprintf(&sb, "Monitored discrete signals: %v\n", m.discrete)
	fmt.Fprintf(&sb, "Delta: %g\n", m.delta)

	sb.WriteString("Pre-state:\n")
	for _, name := range sortedKeys(m.pre) {
		fmt.Fprintf(&sb, "  %s: %s\n", name, m.pre[name])
	}
	fmt.Fprintf(&sb, "Post-state:\n  %s\n", m.tree)

	fmt.Fprintf(&sb, "Possible worlds: %d\n", len(m.worlds))
	fmt.Fprintf(&sb, "LP variables: %d\n", len(m.vars.list))
	fmt.Fprintf(&sb, "Noise bound constraints: %d\n", len(m.bounds))
	fmt.Fprintf(&sb, "Path constraints: %d (%d decision conditions skipped)\n", len(m.paths), len(m.decisions))

	for i, world := range m.worlds {
		fmt.Fprintf(&sb, "World %d:\n", i)
		sb.WriteString("  path:\n")
		for _, id := range world.Path {
			if c, ok := m.paths[id]; ok {
				fmt.Fprintf(&sb, "    [%d] %s\n", id, c)
				continue
			}
			if d, ok := m.decisions[id]; ok {
				fmt.Fprintf(&sb, "    [%d] %s = %t (not checked)\n", id, d.Name, id > 0)
			}
		}
		sb.WriteString("  pre:\n")
		for _, name := range m.continuous {
			fmt.Fprintf(&sb, "    %s: %s\n", name, world.Pre[name])
		}
		sb.WriteString("  post:\n")
		for _, name := range m.continuous {
			fmt.Fprintf(&sb, "    %s: %s\n", name, world.Post[name])
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
