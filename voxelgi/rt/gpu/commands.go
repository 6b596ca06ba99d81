package gpu

import (
	"errors"
	"fmt"
)

// MaxGroupsPerDimension is the WebGPU limit on workgroups per dispatch dimension.
const MaxGroupsPerDimension = 65535

// Groups is a 2D workgroup count. Kernels are linear; the second dimension only exists so large
// dispatches stay under MaxGroupsPerDimension. Invocation ids are (y*X + x)*workgroupSize + local.
type Groups struct {
	X, Y uint32
}

func (g Groups) Total() uint32 { return g.X * g.Y }

// Groups1D covers n invocations with workgroups of size wg, splitting into rows when needed.
func Groups1D(n, wg uint32) Groups {
	if n == 0 {
		return Groups{}
	}
	groups := (n + wg - 1) / wg
	if groups <= MaxGroupsPerDimension {
		return Groups{X: groups, Y: 1}
	}
	y := (groups + MaxGroupsPerDimension - 1) / MaxGroupsPerDimension
	x := (groups + y - 1) / y
	return Groups{X: x, Y: y}
}

type Command interface {
	Label() string
}

type DispatchCmd struct {
	Kernel   *Kernel
	Stage    Stage
	Groups   Groups
	Push     []byte
	Bindings []Binding
}

func (c *DispatchCmd) Label() string { return c.Kernel.Name }

// DrawCmd rasterizes IndexCount indices starting at FirstIndex from the pooled index buffer, adding
// BaseVertex to every fetched index. Storage bindings are accessed from the fragment stage.
type DrawCmd struct {
	Pipeline   *RasterPipeline
	Target     *Image
	Vertices   *Buffer
	Indices    *Buffer
	FirstIndex uint32
	IndexCount uint32
	BaseVertex uint32
	Push       []byte
	Bindings   []Binding
}

func (c *DrawCmd) Label() string { return c.Pipeline.Name }

type BarrierCmd struct {
	Src Stage
	Dst Stage
}

func (c *BarrierCmd) Label() string { return fmt.Sprintf("barrier %s -> %s", c.Src, c.Dst) }

// CommandList records work for one submission. Recording never touches the device.
type CommandList struct {
	Name string
	cmds []Command
}

func NewCommandList(name string) *CommandList {
	return &CommandList{Name: name}
}

func (l *CommandList) Dispatch(k *Kernel, stage Stage, groups Groups, push []byte, bindings ...Binding) {
	if groups.Total() == 0 {
		return
	}
	l.cmds = append(l.cmds, &DispatchCmd{Kernel: k, Stage: stage, Groups: groups, Push: push, Bindings: bindings})
}

func (l *CommandList) Draw(cmd DrawCmd) {
	if cmd.IndexCount == 0 {
		return
	}
	l.cmds = append(l.cmds, &cmd)
}

func (l *CommandList) Barrier(src, dst Stage) {
	l.cmds = append(l.cmds, &BarrierCmd{Src: src, Dst: dst})
}

// Append records every command of other after the commands already in l.
func (l *CommandList) Append(other *CommandList) {
	l.cmds = append(l.cmds, other.cmds...)
}

func (l *CommandList) Commands() []Command { return l.cmds }

func (l *CommandList) Len() int { return len(l.cmds) }

func (l *CommandList) Reset() { l.cmds = l.cmds[:0] }

// Barriers returns the barrier commands in recording order.
func (l *CommandList) Barriers() []BarrierCmd {
	var out []BarrierCmd
	for _, c := range l.cmds {
		if b, ok := c.(*BarrierCmd); ok {
			out = append(out, *b)
		}
	}
	return out
}

// Hazard describes an access that no barrier made safe.
type Hazard struct {
	Command  int
	Label    string
	Resource string
	Stage    Stage
	Prior    Stage
	Kind     string
}

func (h Hazard) Error() string {
	return fmt.Sprintf("%s: command %d (%s) %s %q in %s after %s",
		ErrHazard, h.Command, h.Label, h.Kind, h.Resource, h.Stage, h.Prior)
}

func (h Hazard) Unwrap() error { return ErrHazard }

type resourceState struct {
	write       Stage
	writeAtomic bool
	visible     Stage
	reads       Stage
	readsDone   Stage
}

type access struct {
	res   any
	name  string
	stage Stage
	acc   Access
}

func commandAccesses(c Command) []access {
	switch cmd := c.(type) {
	case *DispatchCmd:
		out := make([]access, 0, len(cmd.Bindings))
		for _, b := range cmd.Bindings {
			out = append(out, access{res: b.resource(), name: b.name(), stage: cmd.Stage, acc: b.Access})
		}
		return out
	case *DrawCmd:
		out := make([]access, 0, len(cmd.Bindings)+2)
		if cmd.Vertices != nil {
			out = append(out, access{res: cmd.Vertices, name: cmd.Vertices.Label, stage: StageVertexShader, acc: AccessRead})
		}
		if cmd.Indices != nil {
			out = append(out, access{res: cmd.Indices, name: cmd.Indices.Label, stage: StageVertexShader, acc: AccessRead})
		}
		for _, b := range cmd.Bindings {
			out = append(out, access{res: b.resource(), name: b.name(), stage: StageFragmentShader, acc: b.Access})
		}
		if cmd.Target != nil {
			out = append(out, access{res: cmd.Target, name: cmd.Target.Label, stage: StageColorAttachmentOutput, acc: AccessAtomicAdd})
		}
		return out
	}
	return nil
}

// Validate replays the list against a per-resource visibility model and reports every access that
// is not ordered after the previous conflicting access by a barrier. Host uploads made before the
// submission are visible to all stages, so the model starts clean.
func (l *CommandList) Validate() error {
	states := map[any]*resourceState{}
	var errs []error
	for i, c := range l.cmds {
		if b, ok := c.(*BarrierCmd); ok {
			if b.Src == 0 || b.Dst == 0 {
				errs = append(errs, fmt.Errorf("command %d: barrier with empty stage mask", i))
				continue
			}
			for _, st := range states {
				if st.write&b.Src != 0 {
					st.visible |= b.Dst
				}
				if st.reads != 0 && st.reads&^b.Src == 0 {
					st.readsDone |= b.Dst
				}
			}
			continue
		}
		for _, a := range commandAccesses(c) {
			if a.res == nil {
				continue
			}
			st, ok := states[a.res]
			if !ok {
				st = &resourceState{}
				states[a.res] = st
			}
			if h, bad := st.check(a); bad {
				h.Command = i
				h.Label = c.Label()
				errs = append(errs, h)
			}
			st.apply(a)
		}
	}
	return errors.Join(errs...)
}

func (st *resourceState) check(a access) (Hazard, bool) {
	h := Hazard{Resource: a.name, Stage: a.stage}
	if st.write != 0 && st.visible&a.stage == 0 {
		sameStageAtomics := a.acc == AccessAtomicAdd && st.writeAtomic && st.write == a.stage
		if !sameStageAtomics {
			h.Prior = st.write
			h.Kind = "reads"
			if a.acc.writes() {
				h.Kind = "overwrites"
			}
			return h, true
		}
	}
	if a.acc.writes() && st.reads != 0 && st.readsDone&a.stage == 0 {
		h.Prior = st.reads
		h.Kind = "writes while still read by"
		return h, true
	}
	return h, false
}

func (st *resourceState) apply(a access) {
	if !a.acc.writes() {
		st.reads |= a.stage
		st.readsDone = 0
		return
	}
	st.write = a.stage
	st.writeAtomic = a.acc == AccessAtomicAdd
	st.visible = 0
	st.reads = 0
	st.readsDone = 0
}
