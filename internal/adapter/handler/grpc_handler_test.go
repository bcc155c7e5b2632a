package handler

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/pharmacy/internal/core/domain"
	"github.com/rl1809/pharmacy/internal/core/service"
)

func startGRPC(t *testing.T, env *testEnv) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(NewGRPCHandler(env.prescriptions, nil), env.auth, nil)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method, token, id string) (*structpb.Struct, error) {
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	req, err := structpb.NewStruct(map[string]any{"prescription_id": id})
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	err = conn.Invoke(ctx, "/"+pharmacyServiceName+"/"+method, req, out)
	return out, err
}

func seedPrescription(t *testing.T, env *testEnv, stock, needed int) string {
	t.Helper()
	ctx := context.Background()
	pharm := testPrincipals["pharmacist-token"]
	doc := testPrincipals["doctor-token"]

	med, err := env.inventory.CreateMedicine(ctx, pharm, domain.NewMedicine{
		Name: "Loratadine", Stock: &stock, Price: intValue(1200),
	})
	if err != nil {
		t.Fatalf("create medicine: %v", err)
	}
	p, err := env.prescriptions.Create(ctx, doc, service.PrescriptionInput{
		PatientID: patientID,
		Medicines: []domain.MedicineRequest{{MedicineID: med.ID, NeededQty: needed}},
	})
	if err != nil {
		t.Fatalf("create prescription: %v", err)
	}
	return p.ID
}

func intValue(v int) *int { return &v }

func TestGRPCHandler_ProcessAndPay(t *testing.T) {
	env := newTestEnv(10_000)
	conn := startGRPC(t, env)
	ctx := context.Background()
	id := seedPrescription(t, env, 10, 3)

	out, err := invoke(ctx, conn, "ProcessPrescription", "pharmacist-token", id)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := out.GetFields()["status"].GetStringValue(); got != string(domain.StatusFinished) {
		t.Fatalf("expected FINISHED, got %q", got)
	}

	out, err = invoke(ctx, conn, "PayPrescription", "patient-token", id)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	payment := out.GetFields()["payment"].GetStructValue()
	if payment.GetFields()["total_price"].GetNumberValue() != 3600 {
		t.Errorf("unexpected payment %v", payment)
	}

	_, err = invoke(ctx, conn, "PayPrescription", "patient-token", id)
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("second pay: expected FailedPrecondition, got %v", err)
	}

	out, err = invoke(ctx, conn, "GetPrescription", "patient-token", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := out.GetFields()["status"].GetStringValue(); got != string(domain.StatusPaid) {
		t.Errorf("expected PAID, got %q", got)
	}
}

func TestGRPCHandler_Errors(t *testing.T) {
	env := newTestEnv(0)
	conn := startGRPC(t, env)
	ctx := context.Background()
	id := seedPrescription(t, env, 5, 1)

	tests := []struct {
		name   string
		method string
		token  string
		id     string
		code   codes.Code
	}{
		{"no token", "GetPrescription", "", id, codes.Unauthenticated},
		{"bad token", "GetPrescription", "nope", id, codes.Unauthenticated},
		{"wrong role", "ProcessPrescription", "doctor-token", id, codes.PermissionDenied},
		{"malformed id", "GetPrescription", "doctor-token", "x", codes.InvalidArgument},
		{"missing", "GetPrescription", "doctor-token", "PRES-09999", codes.NotFound},
		{"not finished", "PayPrescription", "patient-token", id, codes.FailedPrecondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := invoke(ctx, conn, tt.method, tt.token, tt.id)
			if status.Code(err) != tt.code {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestGRPCHandler_Cancel(t *testing.T) {
	env := newTestEnv(0)
	conn := startGRPC(t, env)
	id := seedPrescription(t, env, 5, 2)

	out, err := invoke(context.Background(), conn, "CancelPrescription", "doctor-token", id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	want := "Prescription " + id + " cancelled and deleted successfully."
	if got := out.GetFields()["message"].GetStringValue(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestGRPCHandler_HealthSkipsAuth(t *testing.T) {
	conn := startGRPC(t, newTestEnv(0))

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{
		Service: pharmacyServiceName,
	})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING, got %s", resp.GetStatus())
	}
}
