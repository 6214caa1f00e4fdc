// Package region places plain-data values in memory the operating system
// refuses to write once they are sealed.
//
// A Region[T] goes through Allocate, Initialize, Seal and Read, and finally
// Retire. Sealed values cannot be changed; a Cell[T] simulates updates by
// sealing a successor region from a modified copy, swapping it in with one
// atomic store and retiring the predecessor after its readers let go.
//
//	type settings struct {
//		TickRate   uint32
//		Gravity    float32
//		Invincible bool
//	}
//
//	cell, err := region.NewCell("settings", settings{100, 500, true}, nil)
//	s, err := cell.Load()
//	err = cell.Update(ctx, func(s *settings) error {
//		s.TickRate = 1337
//		return nil
//	})
//
// T must not contain pointers, slices, maps, strings, interfaces, channels or
// funcs: sealed memory lives outside the Go heap.
package region
