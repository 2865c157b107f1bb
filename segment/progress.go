// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package segment

// Progress receives build lifecycle events. Implementations
// must not block; the merge is single-threaded and every
// callback happens on the merging goroutine.
type Progress interface {
	Start()
	Progress()
	StartSection(name string)
	StopSection(name string)
	Stop()
}

// NopProgress discards all events.
type NopProgress struct{}

func (NopProgress) Start()              {}
func (NopProgress) Progress()           {}
func (NopProgress) StartSection(string) {}
func (NopProgress) StopSection(string)  {}
func (NopProgress) Stop()               {}
