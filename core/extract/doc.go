// Package extract turns fetched documents into the metadata and text carried by
// ingest events. Text handles plain UTF-8 documents; Command delegates to an
// external program for formats such as PDF.
package extract
