// Package layout turns raw barcode detections into an ordered,
// normalized detection set.
//
// AssignOrder gives every detection a 1-based reading order under a single
// OrderPolicy. Normalize then rescales each detection's top-left corner into
// [0,1] relative to the extent of all detections on the image, selected by
// an ExtentMode. Axes with zero span normalize to 0.0.
//
// Both stages are pure: they never modify their input and return new slices.
package layout
