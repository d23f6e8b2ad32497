// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package alists

import "encoding/binary"

// TypesizeElements is the fixed element count of the typesize vector: the
// remote-side ABI sizes reported by the TD record. Elements the remote did
// not report are stored as -1.
const TypesizeElements = 12

const typesizeRecordSize = 4

// TypesizeVector is the mapped ATD_<alias> file.
type TypesizeVector struct {
	a *arrayFile
}

// AttachTypesize attaches the typesize file. Idempotent.
func (s *Set) AttachTypesize() error {
	if s.typesize != nil {
		return nil
	}
	a, err := attachArray(s.path("ATD"), typesizeRecordSize, TypesizeElements, s.mode)
	if err != nil {
		return err
	}
	s.typesize = &TypesizeVector{a: a}
	return nil
}

// Element returns value i, or -1 when the remote did not report it.
func (v *TypesizeVector) Element(i int) int32 {
	return int32(binary.LittleEndian.Uint32(v.a.entry(i)))
}

// SetElement stores value i.
func (v *TypesizeVector) SetElement(i int, val int32) {
	binary.LittleEndian.PutUint32(v.a.entry(i), uint32(val))
}

// SetAll stores the reported values in order and fills the remaining
// elements with -1.
func (v *TypesizeVector) SetAll(vals []int32) {
	for i := 0; i < TypesizeElements; i++ {
		if i < len(vals) {
			v.SetElement(i, vals[i])
		} else {
			v.SetElement(i, -1)
		}
	}
}
