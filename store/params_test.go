package store

import (
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func testParams() ParamBuilder {
	return NewParamBuilder(DefaultConfig())
}

func TestKey(t *testing.T) {
	key := Key("p1", 4)

	if v := key[AttrID].(*types.AttributeValueMemberS).Value; v != "p1" {
		t.Errorf("expected id 'p1', got %q", v)
	}
	if v := key[AttrVID].(*types.AttributeValueMemberN).Value; v != "4" {
		t.Errorf("expected vid '4', got %q", v)
	}
	if len(key) != 2 {
		t.Errorf("expected 2 key attributes, got %d", len(key))
	}
}

func TestUpdateDocumentStatus_Lock(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	w := testParams().UpdateDocumentStatus(StatusAvailable, StatusLocked, "p1", 2, "Patient", now)

	u := w.Update
	if u == nil {
		t.Fatal("expected an Update")
	}
	if aws.ToString(u.TableName) != "resource-db" {
		t.Errorf("expected table 'resource-db', got %q", aws.ToString(u.TableName))
	}
	if aws.ToString(u.UpdateExpression) != "SET #ds = :newStatus, #lock = :futureEndTs" {
		t.Errorf("unexpected update expression %q", aws.ToString(u.UpdateExpression))
	}
	expectedCond := "#r = :resourceType AND (#ds = :oldStatus OR (#lock < :currentTs AND (#ds = :lockStatus OR #ds = :pendingStatus OR #ds = :pendingDeleteStatus)))"
	if aws.ToString(u.ConditionExpression) != expectedCond {
		t.Errorf("unexpected condition %q", aws.ToString(u.ConditionExpression))
	}

	values := u.ExpressionAttributeValues
	checks := map[string]string{
		":newStatus":           "LOCKED",
		":oldStatus":           "AVAILABLE",
		":resourceType":        "Patient",
		":lockStatus":          "LOCKED",
		":pendingStatus":       "PENDING",
		":pendingDeleteStatus": "PENDING_DELETE",
	}
	for k, want := range checks {
		if got := values[k].(*types.AttributeValueMemberS).Value; got != want {
			t.Errorf("expected %s %q, got %q", k, want, got)
		}
	}
	if got := values[":currentTs"].(*types.AttributeValueMemberN).Value; got != "1700000000000" {
		t.Errorf("expected :currentTs 1700000000000, got %q", got)
	}
	wantEnd := strconv.FormatInt(now.Add(35*time.Second).UnixMilli(), 10)
	if got := values[":futureEndTs"].(*types.AttributeValueMemberN).Value; got != wantEnd {
		t.Errorf("expected :futureEndTs %s, got %q", wantEnd, got)
	}

	if u.ExpressionAttributeNames["#ds"] != AttrDocumentStatus ||
		u.ExpressionAttributeNames["#lock"] != AttrLockEndTs ||
		u.ExpressionAttributeNames["#r"] != AttrResourceType {
		t.Errorf("unexpected names %v", u.ExpressionAttributeNames)
	}
	if _, ok := u.ExpressionAttributeNames["#ttl"]; ok {
		t.Error("expected no #ttl without a ttl")
	}
}

func TestUpdateDocumentStatus_NoOldStatus(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	u := testParams().UpdateDocumentStatus("", StatusAvailable, "p1", 2, "Patient", now).Update

	if aws.ToString(u.ConditionExpression) != "#r = :resourceType" {
		t.Errorf("expected resource type only condition, got %q", aws.ToString(u.ConditionExpression))
	}
	for _, k := range []string{":oldStatus", ":currentTs", ":lockStatus"} {
		if _, ok := u.ExpressionAttributeValues[k]; ok {
			t.Errorf("expected no %s without an old status", k)
		}
	}
	// Only LOCKED gets a future lock end.
	if got := u.ExpressionAttributeValues[":futureEndTs"].(*types.AttributeValueMemberN).Value; got != "1700000000000" {
		t.Errorf("expected :futureEndTs now, got %q", got)
	}
}

func TestUpdateDocumentStatusWithTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	u := testParams().UpdateDocumentStatusWithTTL("", StatusDeleted, "p1", 1, "Patient", now, time.Hour).Update

	if aws.ToString(u.UpdateExpression) != "SET #ds = :newStatus, #lock = :futureEndTs, #ttl = :ttl" {
		t.Errorf("unexpected update expression %q", aws.ToString(u.UpdateExpression))
	}
	if u.ExpressionAttributeNames["#ttl"] != AttrTTL {
		t.Errorf("expected #ttl name, got %v", u.ExpressionAttributeNames)
	}
	if got := u.ExpressionAttributeValues[":ttl"].(*types.AttributeValueMemberN).Value; got != "1700003600" {
		t.Errorf("expected :ttl 1700003600, got %q", got)
	}
}

func TestUpdateDocumentStatusItem(t *testing.T) {
	in := testParams().UpdateDocumentStatusItem(StatusAvailable, StatusDeleted, "p1", 1, "Patient", time.Now(), 0)

	if aws.ToString(in.TableName) != "resource-db" {
		t.Errorf("expected table 'resource-db', got %q", aws.ToString(in.TableName))
	}
	if in.ConditionExpression == nil || in.UpdateExpression == nil {
		t.Fatal("expected condition and update expressions")
	}
	if in.ExpressionAttributeValues[":oldStatus"].(*types.AttributeValueMemberS).Value != "AVAILABLE" {
		t.Error("expected :oldStatus AVAILABLE")
	}
}

func TestLatestVersionsQuery(t *testing.T) {
	in := testParams().LatestVersionsQuery("p1", "Patient", 2)

	if aws.ToString(in.KeyConditionExpression) != "id = :hkey" {
		t.Errorf("unexpected key condition %q", aws.ToString(in.KeyConditionExpression))
	}
	if aws.ToString(in.FilterExpression) != "#r = :resourceType" {
		t.Errorf("unexpected filter %q", aws.ToString(in.FilterExpression))
	}
	if aws.ToBool(in.ScanIndexForward) {
		t.Error("expected newest first")
	}
	if aws.ToInt32(in.Limit) != 2 {
		t.Errorf("expected limit 2, got %d", aws.ToInt32(in.Limit))
	}
	if in.ProjectionExpression != nil {
		t.Errorf("expected no projection, got %q", aws.ToString(in.ProjectionExpression))
	}
	if in.ExpressionAttributeValues[":hkey"].(*types.AttributeValueMemberS).Value != "p1" {
		t.Error("expected :hkey p1")
	}
}

func TestLatestVersionsQuery_Projection(t *testing.T) {
	in := testParams().LatestVersionsQuery("p1", "Patient", 1, AttrID, AttrMeta)

	if aws.ToString(in.ProjectionExpression) != "#p0, #p1" {
		t.Errorf("unexpected projection %q", aws.ToString(in.ProjectionExpression))
	}
	if in.ExpressionAttributeNames["#p0"] != AttrID || in.ExpressionAttributeNames["#p1"] != AttrMeta {
		t.Errorf("unexpected names %v", in.ExpressionAttributeNames)
	}
	if in.ExpressionAttributeNames["#r"] != AttrResourceType {
		t.Error("expected #r to stay mapped")
	}
}

func TestPutItem(t *testing.T) {
	item := map[string]types.AttributeValue{AttrID: &types.AttributeValueMemberS{Value: "p1"}}

	if in := testParams().PutItem(item, false); aws.ToString(in.ConditionExpression) != "attribute_not_exists(id)" {
		t.Errorf("expected not-exists condition, got %q", aws.ToString(in.ConditionExpression))
	}
	if in := testParams().PutItem(item, true); in.ConditionExpression != nil {
		t.Errorf("expected no condition, got %q", aws.ToString(in.ConditionExpression))
	}
	if w := testParams().TransactPut(item, false); aws.ToString(w.Put.ConditionExpression) != "attribute_not_exists(id)" {
		t.Errorf("expected not-exists condition, got %q", aws.ToString(w.Put.ConditionExpression))
	}
}

func TestDeleteAndGet(t *testing.T) {
	p := testParams()

	d := p.Delete("p1", 3).Delete
	if d == nil || d.ConditionExpression != nil {
		t.Fatal("expected an unconditional Delete")
	}
	if d.Key[AttrVID].(*types.AttributeValueMemberN).Value != "3" {
		t.Error("expected vid 3")
	}

	g := p.TransactGet("p1", 3).Get
	if g == nil || aws.ToString(g.TableName) != "resource-db" {
		t.Fatal("expected a Get on the resource table")
	}
	if p.GetItem("p1", 3).Key[AttrID].(*types.AttributeValueMemberS).Value != "p1" {
		t.Error("expected id p1")
	}
}
