package extract

import (
	"strings"
)

// buildStatementPrompt constructs the instructions sent alongside the PDF.
// Amounts are requested exactly as printed so the importer parses them with
// the configured locale instead of trusting the model's arithmetic.
func buildStatementPrompt(bank string) string {
	var b strings.Builder
	b.WriteString("You are a bank statement parser")
	if bank != "" {
		b.WriteString(" for " + bank + " PDF statements")
	}
	b.WriteString(".\n\n")

	b.WriteString("Task:\n")
	b.WriteString("- Extract EVERY movement line in the attached statement, in the order printed.\n")
	b.WriteString("- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n")
	b.WriteString("- Output a JSON array of objects.\n\n")

	b.WriteString("Each object must have these fields:\n")
	b.WriteString("- \"date\": string, ISO format \"YYYY-MM-DD\"\n")
	b.WriteString("- \"description\": string, copied as printed including document numbers\n")
	b.WriteString("- \"amount\": string, copied EXACTLY as printed (keep thousands and decimal separators)\n")
	b.WriteString("- \"account_number\": string or null\n\n")

	b.WriteString("Rules:\n")
	b.WriteString("- Money OUT must carry a leading \"-\". If the statement marks debits with \"D\" or a separate column, prefix the amount with \"-\".\n")
	b.WriteString("- Do NOT merge identical lines; repeated movements on the same day are separate objects.\n")
	b.WriteString("- Skip opening balance, closing balance and subtotal lines.\n")
	b.WriteString("- If a line has no amount, set \"amount\" to \"\".\n\n")

	b.WriteString("Return ONLY valid raw JSON.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Output must begin with \"[\" and end with \"]\".\n")
	return b.String()
}
