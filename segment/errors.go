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

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is wrapped by every validation failure
// detected before or during a merge: empty inputs, interval
// violations, duplicate or missing column names.
var ErrInvalidInput = errors.New("invalid merge input")

// ErrUnsupportedIterator is returned when row-number
// conversions are requested with an iterator variant that
// does not expose row origins.
var ErrUnsupportedIterator = errors.New("iterator does not expose row origins")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
