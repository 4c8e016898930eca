// Package barcode decodes printed barcodes from raster images.
//
// Backend is the pluggable decoder interface; NewBackend returns the
// gozxing-backed implementation, which runs one reader per enabled
// symbology and reports every symbol found with its bounding box.
package barcode
