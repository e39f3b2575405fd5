// Package domain models hourly observations from automatic weather stations
// as published in yearly INMET historical archives.
//
// # Data Source
//
// INMET (Instituto Nacional de Meteorologia) publishes one zip per year at
// https://portal.inmet.gov.br/uploads/dadoshistoricos/<year>.zip. Each archive
// holds one tabular file per station, named like
//
//	INMET_CO_DF_A001_BRASILIA_01-01-2019_A_31-12-2019.CSV
//
// where A001 is the station's WMO-style code.
//
// # File Conventions
//
// Encoding is ISO-8859-1 in most years, UTF-8 (sometimes with a BOM) in a few.
// Fields are separated by ";" and every line carries a trailing separator.
//
// Preamble: the first lines are "KEY:;value" pairs describing the station:
//
//	REGIÃO:;CO
//	UF:;DF
//	ESTAÇÃO:;BRASILIA
//	CODIGO (WMO):;A001
//	LATITUDE:;-15,78944444
//	LONGITUDE:;-47,92583332
//	ALTITUDE:;1160,96
//	DATA DE FUNDAÇÃO:;07/05/00
//
// Keys change spelling between years (accents, case, "YYYY-MM-DD" vs
// "dd/mm/yy" founding dates), so they are matched after [FoldKey].
//
// Header: the first line wide enough to be a table. Labels are long
// Portuguese descriptions, e.g. "TEMPERATURA DO AR - BULBO SECO, HORARIA (°C)",
// bound to a [Kind] by prefix in [NewHeader].
//
// Date and hour:
//
//	Date: "2019-01-01", "2019/01/01" or "01/01/2019".
//	Hour: "00:00", "0000", "0000 UTC" or "00 UTC".
//
// Timestamps are kept as written: no timezone conversion is applied even
// when the hour column says UTC. [time.UTC] is only the carrier location.
//
// Numbers use a decimal comma ("-15,78" or ",6"). "-9999" marks a missing
// reading and never counts as a value.
package domain
