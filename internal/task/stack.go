package task

import "errors"

// MaxDepth bounds the number of nested frames, the root task included.
const MaxDepth = 3

// ErrStackFull is returned when pushing beyond MaxDepth.
var ErrStackFull = errors.New("task: sub-activity stack is full")

// Stack holds the current task and its nested sub-activities. Frame 0 is
// the root; the last frame is the one actually being performed.
type Stack struct {
	frames []*Task
}

// Reset replaces every frame with root. A nil root empties the stack.
func (s *Stack) Reset(root *Task) {
	s.frames = s.frames[:0]
	if root != nil {
		s.frames = append(s.frames, root)
	}
}

// Push adds a sub-activity below the current bottom frame.
func (s *Stack) Push(t *Task) error {
	if len(s.frames) >= MaxDepth {
		return ErrStackFull
	}
	s.frames = append(s.frames, t)
	return nil
}

// Pop removes and returns the bottom frame.
func (s *Stack) Pop() *Task {
	if len(s.frames) == 0 {
		return nil
	}
	t := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return t
}

// Root returns the outermost task, or nil.
func (s *Stack) Root() *Task {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[0]
}

// Bottom returns the deepest frame that is still running, looking at no more
// than MaxDepth frames.
func (s *Stack) Bottom() *Task {
	var bottom *Task
	for i := 0; i < len(s.frames) && i < MaxDepth; i++ {
		if s.frames[i] == nil || s.frames[i].IsDone() {
			break
		}
		bottom = s.frames[i]
	}
	return bottom
}

// At returns the frame at depth, or nil.
func (s *Stack) At(depth int) *Task {
	if depth < 0 || depth >= len(s.frames) {
		return nil
	}
	return s.frames[depth]
}

// Len returns the number of frames.
func (s *Stack) Len() int { return len(s.frames) }

// Names returns the frame names from root to bottom.
func (s *Stack) Names() []string {
	names := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		names = append(names, f.Name())
	}
	return names
}
