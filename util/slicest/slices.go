// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

// Package slicest holds the slice helpers the codebase actually uses.
package slicest

// Map applies fn to every element of s and returns the results.
func Map[T, U any, S ~[]T](s S, fn func(T) U) []U {
	result := make([]U, len(s))
	for i, t := range s {
		result[i] = fn(t)
	}
	return result
}

// MapX applies fn to every element of s, stopping at the first error.
func MapX[T, U any, S ~[]T](s S, fn func(T) (U, error)) ([]U, error) {
	result := make([]U, len(s))
	for i, t := range s {
		u, err := fn(t)
		if err != nil {
			return nil, err
		}
		result[i] = u
	}
	return result, nil
}
