// Package viz renders particle trajectories in the terminal.
//
//   - [Player]: Bubble Tea model that plays recorded frames on a braille canvas
//   - [Terminal]: sim.Renderer running a Player
//   - [Snapshot]: sim.Renderer writing still frames to a writer
//   - [PlotLoss], [PlotTrack]: asciigraph line plots
//
// # Key Bindings
//
//	Space - Play/Pause
//	[ ]   - Step back/forward
//	g G   - First/last frame
//	V     - Cycle front, top and perspective views
//	X Y   - Rotate the perspective camera
//	+ -   - Zoom
//	L     - Toggle looping
//	T     - Cycle color themes
//	?     - Show help
package viz
