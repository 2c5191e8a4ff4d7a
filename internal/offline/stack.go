// Sonicmirror - Offline Library Mirror for Subsonic Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sonicmirror

package offline

import "github.com/tomtom215/sonicmirror/internal/models"

// Frame is one folder level on the browse stack. Items are a snapshot read
// from the mirror when the frame was pushed; they are never mutated.
type Frame struct {
	FolderID string              `json:"folder_id"`
	Title    string              `json:"title"`
	Items    []models.CachedItem `json:"items"`
}

// Stack is the navigation stack: an arena of frames indexed by depth, with
// the library root at index 0. It is never empty. Not safe for concurrent
// use; Browser serializes access.
type Stack struct {
	frames []Frame
}

// NewStack returns a stack holding only root.
func NewStack(root Frame) *Stack {
	return &Stack{frames: []Frame{root}}
}

// Push makes f the current frame.
func (s *Stack) Push(f Frame) {
	s.frames = append(s.frames, f)
}

// Pop removes and returns the current frame. At the root nothing changes and
// ok is false.
func (s *Stack) Pop() (Frame, bool) {
	if len(s.frames) <= 1 {
		return Frame{}, false
	}
	top := len(s.frames) - 1
	f := s.frames[top]
	s.frames[top] = Frame{} // release the snapshot
	s.frames = s.frames[:top]
	return f, true
}

// Current returns the top frame.
func (s *Stack) Current() Frame {
	return s.frames[len(s.frames)-1]
}

// Replace swaps the top frame, keeping depth.
func (s *Stack) Replace(f Frame) {
	s.frames[len(s.frames)-1] = f
}

// Depth is the number of frames, root included.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Frames returns a copy of the frames, root first.
func (s *Stack) Frames() []Frame {
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}
