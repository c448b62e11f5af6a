// Command auditctl is the operator CLI for the audit pipeline: it
// drives verification, retention, dead-letter queue, and GDPR
// data-subject-rights operations against a running Runtime's storage
// and broker, without needing the worker daemon itself to be running.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/complyaudit/audit-core/internal/app"
	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/gdpr"
	"github.com/complyaudit/audit-core/pkg/apierr"
)

// Exit codes per spec §6.
const (
	exitSuccess        = 0
	exitUnexpected     = 1
	exitInputError     = 2
	exitIntegrityFail  = 3
	exitPartialSuccess = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: auditctl <verify|retention-apply|dlq|gdpr> ...")
		return exitInputError
	}

	ctx := context.Background()
	rt, err := app.NewRuntime(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize runtime: %v\n", err)
		return exitUnexpected
	}
	defer rt.Shutdown(context.Background())

	switch args[0] {
	case "verify":
		return cmdVerify(ctx, rt, args[1:])
	case "retention-apply":
		return cmdRetentionApply(ctx, rt, args[1:])
	case "dlq":
		return cmdDLQ(ctx, rt, args[1:])
	case "gdpr":
		return cmdGDPR(ctx, rt, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		return exitInputError
	}
}

func cmdVerify(ctx context.Context, rt *app.Runtime, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	from := fs.String("from", "", "start of verification window (RFC3339)")
	to := fs.String("to", "", "end of verification window (RFC3339)")
	org := fs.String("org", "", "organization id (all organizations if omitted)")
	if err := fs.Parse(args); err != nil {
		return exitInputError
	}
	if *from == "" || *to == "" {
		fmt.Fprintln(os.Stderr, "verify requires --from and --to")
		return exitInputError
	}
	fromT, err := time.Parse(time.RFC3339, *from)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --from: %v\n", err)
		return exitInputError
	}
	toT, err := time.Parse(time.RFC3339, *to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --to: %v\n", err)
		return exitInputError
	}

	report, err := rt.Verifier.Verify(ctx, fromT, toT, *org)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify failed: %v\n", err)
		return exitCodeFor(err)
	}

	fmt.Printf("checked=%d valid=%d tampered=%d missing_hash=%d signature_invalid=%d\n",
		report.TotalChecked, report.Valid, len(report.Tampered), len(report.MissingHash), len(report.SignatureInvalid))
	for _, t := range report.Tampered {
		fmt.Printf("TAMPERED event=%s stored=%s computed=%s\n", t.EventID, t.StoredHash, t.ComputedHash)
	}
	for _, id := range report.SignatureInvalid {
		fmt.Printf("SIGNATURE_INVALID event=%s\n", id)
	}

	if len(report.Tampered) > 0 || len(report.SignatureInvalid) > 0 {
		return exitIntegrityFail
	}
	return exitSuccess
}

func cmdRetentionApply(ctx context.Context, rt *app.Runtime, args []string) int {
	fs := flag.NewFlagSet("retention-apply", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "report what would happen without mutating storage")
	batchSize := fs.Int("batch-size", 500, "maximum events processed per sweep")
	if err := fs.Parse(args); err != nil {
		return exitInputError
	}

	result, err := rt.RetentionSweeper.Sweep(ctx, time.Now().UTC(), *dryRun, *batchSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "retention sweep failed: %v\n", err)
		return exitCodeFor(err)
	}

	fmt.Printf("archived=%d deleted=%d pseudonymized=%d errors=%d\n",
		result.Archived, result.Deleted, result.Pseudonymized, len(result.Errors))
	for _, e := range result.Errors {
		fmt.Fprintln(os.Stderr, e)
	}

	if len(result.Errors) > 0 {
		return exitPartialSuccess
	}
	return exitSuccess
}

func cmdDLQ(ctx context.Context, rt *app.Runtime, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: auditctl dlq <list|requeue|purge> ...")
		return exitInputError
	}

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("dlq list", flag.ContinueOnError)
		org := fs.String("org", "", "organization id")
		limit := fs.Int("limit", 50, "max records")
		offset := fs.Int("offset", 0, "pagination offset")
		if err := fs.Parse(args[1:]); err != nil {
			return exitInputError
		}
		records, err := rt.DeadLetter.List(ctx, *org, *limit, *offset)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dlq list failed: %v\n", err)
			return exitCodeFor(err)
		}
		for _, r := range records {
			fmt.Printf("%s attempts=%d failed_at=%s error=%q\n", r.JobID, r.Attempts, r.FailedAt.Format(time.RFC3339), r.TerminalError)
		}
		return exitSuccess

	case "requeue":
		fs := flag.NewFlagSet("dlq requeue", flag.ContinueOnError)
		jobID := fs.String("job-id", "", "DLQ job id to requeue")
		if err := fs.Parse(args[1:]); err != nil {
			return exitInputError
		}
		if *jobID == "" {
			fmt.Fprintln(os.Stderr, "dlq requeue requires --job-id")
			return exitInputError
		}
		if err := rt.DeadLetter.Requeue(ctx, *jobID); err != nil {
			fmt.Fprintf(os.Stderr, "dlq requeue failed: %v\n", err)
			return exitCodeFor(err)
		}
		return exitSuccess

	case "purge":
		fs := flag.NewFlagSet("dlq purge", flag.ContinueOnError)
		olderThanDays := fs.Int("older-than-days", 90, "purge records older than this many days")
		if err := fs.Parse(args[1:]); err != nil {
			return exitInputError
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -*olderThanDays)
		n, err := rt.DeadLetter.Purge(ctx, cutoff)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dlq purge failed: %v\n", err)
			return exitCodeFor(err)
		}
		fmt.Printf("purged=%d\n", n)
		return exitSuccess

	default:
		fmt.Fprintf(os.Stderr, "unknown dlq subcommand: %s\n", args[0])
		return exitInputError
	}
}

func cmdGDPR(ctx context.Context, rt *app.Runtime, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: auditctl gdpr <export|erase|pseudonymize> --subject ID")
		return exitInputError
	}

	sub := args[0]
	fs := flag.NewFlagSet("gdpr "+sub, flag.ContinueOnError)
	subject := fs.String("subject", "", "data subject id")
	format := fs.String("format", "json", "export format: json|csv|xml")
	if err := fs.Parse(args[1:]); err != nil {
		return exitInputError
	}
	if *subject == "" {
		fmt.Fprintln(os.Stderr, "gdpr commands require --subject")
		return exitInputError
	}

	switch sub {
	case "export":
		out, err := rt.GDPR.Access(ctx, *subject, gdpr.ExportFormat(*format))
		if err != nil {
			fmt.Fprintf(os.Stderr, "gdpr export failed: %v\n", err)
			return exitCodeFor(err)
		}
		fmt.Println(string(out))
		return exitSuccess

	case "erase":
		deleted, pseudonymized, err := rt.GDPR.Erasure(ctx, *subject)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gdpr erase failed: %v\n", err)
			return exitCodeFor(err)
		}
		fmt.Printf("deleted=%d pseudonymized=%d\n", deleted, pseudonymized)
		return exitSuccess

	case "pseudonymize":
		pseudonymID, err := rt.Pseudonymizer.Pseudonymize(ctx, *subject, entities.StrategyDeterministic)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gdpr pseudonymize failed: %v\n", err)
			return exitCodeFor(err)
		}
		fmt.Printf("pseudonym_id=%s\n", pseudonymID)
		return exitSuccess

	default:
		fmt.Fprintf(os.Stderr, "unknown gdpr subcommand: %s\n", sub)
		return exitInputError
	}
}

// exitCodeFor maps a domain error's apierr.Code to spec §6's exit
// codes: validation, policy and configuration problems are the
// caller's fault (2), everything else unexpected (1).
func exitCodeFor(err error) int {
	switch apierr.CodeOf(err) {
	case apierr.CodeValidation, apierr.CodePolicyViolation, apierr.CodeConfigError:
		return exitInputError
	default:
		return exitUnexpected
	}
}
